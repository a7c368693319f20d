package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var v = viper.New()

var rootCmd = &cobra.Command{
	Use:   "goscaler",
	Short: "Real-time GPU window scaler",
	Long: `goscaler captures a window, runs it through a chain of GPU shader
effects and presents the result in its own window.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("goscaler %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", buildDate)
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Capture a window and present it scaled",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScaler(cmd)
	},
}

var effectsCmd = &cobra.Command{
	Use:   "effects",
	Short: "List the available effects",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listEffects(cmd)
	},
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"source-title":       "source_title",
	"source-id":          "source_id",
	"source-size":        "source_size",
	"capture":            "capture",
	"input":              "input",
	"effect":             "effect",
	"vsync":              "vsync",
	"triple-buffering":   "triple_buffering",
	"no-cache":           "no_cache",
	"save-sources":       "save_sources",
	"warnings-as-errors": "warnings_as_errors",
	"debug":              "debug",
	"width":              "width",
	"height":             "height",
	"ffmpeg":             "ffmpeg",
	"fps":                "fps",
	"effects-dir":        "effects_dir",
	"cache-dir":          "cache_dir",
	"log-level":          "log_level",
}

func init() {
	// glfw must run on the main thread
	runtime.LockOSThread()

	rootCmd.AddCommand(versionCmd, runCmd, effectsCmd)

	pf := rootCmd.PersistentFlags()
	pf.StringP("config", "c", "", "Config file path")
	pf.String("effects-dir", "", "Directory searched for effects before the built-in ones")
	pf.String("cache-dir", "", "Effect cache directory")
	pf.String("log-level", "", "Log level (debug, info, warn, error)")
	pf.Bool("debug", false, "Debug GL context and verbose logging")

	f := runCmd.Flags()
	f.String("source-title", "", "Title of the window to capture")
	f.Uint64("source-id", 0, "Native ID of the window (or screen on macOS) to capture")
	f.String("source-size", "", "Size of the captured window, WIDTHxHEIGHT; probed when empty")
	f.String("capture", "", "Capture method (ffmpeg, file)")
	f.String("input", "", "Video file for the file capture method")
	f.StringArrayP("effect", "e", nil, "Effect to apply, name[:key=value,...]; repeatable")
	f.Bool("vsync", true, "Synchronize presentation with the display")
	f.Bool("triple-buffering", false, "Use three swap chain buffers")
	f.Bool("no-cache", false, "Bypass the effect cache")
	f.Bool("save-sources", false, "Write generated effect sources to the cache directory")
	f.Bool("warnings-as-errors", false, "Fail effect compilation on warnings")
	f.Int("width", 0, "Output window width")
	f.Int("height", 0, "Output window height")
	f.String("ffmpeg", "", "Path to the ffmpeg executable")
	f.Int("fps", 0, "Capture frame rate")

	bindFlags(pf)
	bindFlags(f)
}

func bindFlags(fs *pflag.FlagSet) {
	fs.VisitAll(func(fl *pflag.Flag) {
		if key, ok := flagKeys[fl.Name]; ok {
			if err := v.BindPFlag(key, fl); err != nil {
				panic(err)
			}
		}
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
