// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", AppName)
	viper.SetDefault("main.log.enabled", false)
	viper.SetDefault("main.log.path", "logs/heapbridge.log")
	viper.SetDefault("main.log.rotation", RotationDaily)
	viper.SetDefault("main.log.maxsize", 10485760)
	viper.SetDefault("main.log.rotationday", time.Sunday.String())
	viper.SetDefault("main.log.level", "info")

	viper.SetDefault("module.path", "")
	viper.SetDefault("module.allocexport", DefaultAllocExport)
	viper.SetDefault("module.freeexport", DefaultFreeExport)
	viper.SetDefault("module.processexport", DefaultProcessExport)
	viper.SetDefault("module.cachedir", "")
	viper.SetDefault("module.memorylimitpages", 0)
	viper.SetDefault("module.loadtimeout", 30*time.Second)

	viper.SetDefault("process.blocksize", DefaultBlockSize)
	viper.SetDefault("process.inputregion", DefaultInputRegion)
	viper.SetDefault("process.outputregion", DefaultOutputRegion)
	viper.SetDefault("process.outputdir", "output")
	viper.SetDefault("process.workers", 0)

	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.listen", "0.0.0.0:8090")
}
