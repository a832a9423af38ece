package inspect

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/spf13/cobra"

	"github.com/tphakala/heapbridge/internal/conf"
	"github.com/tphakala/heapbridge/internal/cpuspec"
	"github.com/tphakala/heapbridge/internal/errors"
	"github.com/tphakala/heapbridge/internal/heap"
	"github.com/tphakala/heapbridge/internal/wasmhost"
)

const mib = 1024 * 1024

// probeRegion is the identifier used for the allocation probe
const probeRegion = "probe"

// Command creates the inspect command for examining the configured native module
func Command() *cobra.Command {
	var probeChannels, probeBytes int

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show native module exports and host resources",
		Long: `Load the configured native module and report its exports, linear memory
and the host CPU and memory. With --probe-bytes, a region is allocated and
resized through the module allocator to check that malloc and free work.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), conf.Setting(), cmd.OutOrStdout(), probeBytes, probeChannels)
		},
	}

	cmd.Flags().IntVar(&probeBytes, "probe-bytes", 0, "Bytes per channel for the allocation probe, 0 to skip")
	cmd.Flags().IntVar(&probeChannels, "probe-channels", 2, "Channel count for the allocation probe")

	return cmd
}

func run(ctx context.Context, settings *conf.Settings, out io.Writer, probeBytes, probeChannels int) error {
	host, err := wasmhost.NewHost(ctx, settings.Module)
	if err != nil {
		return err
	}
	defer host.Close(context.WithoutCancel(ctx))

	mod, err := host.Instantiate(ctx)
	if err != nil {
		return err
	}
	defer mod.Close(context.WithoutCancel(ctx))

	fmt.Fprintf(out, "Module:    %s\n", settings.Module.Path)
	fmt.Fprintf(out, "Exports:   %s\n", strings.Join(mod.Exports(), ", "))
	fmt.Fprintf(out, "Allocator: %s / %s\n", settings.Module.AllocExport, settings.Module.FreeExport)
	fmt.Fprintf(out, "Compute:   %s (%s)\n", settings.Module.ProcessExport, presence(mod.HasProcess()))
	fmt.Fprintf(out, "Memory:    %d bytes (%d pages)\n", mod.MemorySize(), mod.MemorySize()/conf.WasmPageSize)

	if probeBytes > 0 {
		if err := probe(mod, out, probeBytes, probeChannels); err != nil {
			return err
		}
	}

	spec := cpuspec.Detect()
	fmt.Fprintf(out, "CPU:       %s (%d physical, %d logical", spec.BrandName, spec.PhysicalCores, spec.LogicalCores)
	if spec.PerformanceCores > 0 {
		fmt.Fprintf(out, ", %d performance", spec.PerformanceCores)
	}
	fmt.Fprintln(out, ")")
	if len(spec.Features) > 0 {
		fmt.Fprintf(out, "SIMD:      %s\n", strings.Join(spec.Features, ", "))
	}
	fmt.Fprintf(out, "Workers:   %d\n", spec.OptimalWorkers())

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		fmt.Fprintf(out, "Host RAM:  %d MiB total, %d MiB available\n", vm.Total/mib, vm.Available/mib)
	}

	return nil
}

// probeTarget is the part of a module instance the allocation probe uses
type probeTarget interface {
	heap.Allocator
	MemorySize() uint32
}

// probe allocates a region, grows it to twice the size, and releases it
func probe(mod probeTarget, out io.Writer, bytesPerChannel, channels int) (err error) {
	mgr := heap.NewManager(heap.WithAllocator(mod), heap.WithID("inspect"))
	defer func() {
		if closeErr := mgr.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("probe teardown failed: %w", closeErr))
		}
	}()

	for _, bpc := range []int{bytesPerChannel, bytesPerChannel, 2 * bytesPerChannel} {
		if _, err := mgr.EnsureRegion(probeRegion, bpc, channels); err != nil {
			return fmt.Errorf("allocation probe failed: %w", err)
		}
		region, _ := mgr.Region(probeRegion)
		fmt.Fprintf(out, "Probe:     %d x %d bytes at %s (%d bytes live)\n", channels, bpc, region.Address, mgr.LiveBytes())
	}

	if err := mgr.ReleaseRegion(probeRegion); err != nil {
		return fmt.Errorf("release probe failed: %w", err)
	}
	fmt.Fprintf(out, "Probe:     released, memory now %d bytes\n", mod.MemorySize())
	return nil
}

func presence(ok bool) string {
	if ok {
		return "present"
	}
	return "missing"
}
