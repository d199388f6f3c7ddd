package cmd

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kiesman99/gravilens/internal/lens"
	"github.com/kiesman99/gravilens/pkg/raster"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "gravilens",
	Short: "Apply a gravitational lens warp to an image",
	Long: `gravilens applies a gravitational lens distortion to an image.

Pixels inside a circular region are radially displaced toward the region
center, simulating light bending around a central mass. The lens is defined
by an inner and an outer radius, given as percentages of the region's
half-minor-dimension. Input formats: PNG, JPEG, WebP; output is PNG.

Examples:
  # Warp a whole image with the default lens
  gravilens -i photo.png -o warped.png

  # Narrow lens band, reflected inner disk
  gravilens -i photo.png -o warped.png --inner 80 --outer 100 --inside

  # Warp only a 200x200 region
  gravilens -i photo.png -o warped.png --roi 100,100,300,300

  # Start HTTP server
  gravilens serve --port 8080`,
	RunE: runWarp,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.gravilens.yaml)")

	// I/O options
	rootCmd.Flags().StringP("input", "i", "", "input image file (png, jpeg or webp)")
	rootCmd.Flags().StringP("output", "o", "", "output file (default: stdout)")

	// Lens options
	rootCmd.Flags().Float64("inner", 50, "inner lens radius as percent of the region's half-minor-dimension")
	rootCmd.Flags().Float64("outer", 100, "outer lens radius as percent of the region's half-minor-dimension")
	rootCmd.Flags().Bool("inside", false, "sample reflected surroundings inside the inner radius instead of painting it black")
	rootCmd.Flags().String("roi", "", "region of interest as 'x1,y1,x2,y2' (default: full image)")

	// Execution options
	rootCmd.Flags().Int("workers", 1, "number of goroutines scanning rows")
	rootCmd.Flags().Bool("progress", false, "print progress to stderr")

	// Bind flags to viper for root command
	viper.BindPFlag("input", rootCmd.Flags().Lookup("input"))
	viper.BindPFlag("output", rootCmd.Flags().Lookup("output"))
	viper.BindPFlag("inner", rootCmd.Flags().Lookup("inner"))
	viper.BindPFlag("outer", rootCmd.Flags().Lookup("outer"))
	viper.BindPFlag("inside", rootCmd.Flags().Lookup("inside"))
	viper.BindPFlag("roi", rootCmd.Flags().Lookup("roi"))
	viper.BindPFlag("workers", rootCmd.Flags().Lookup("workers"))
	viper.BindPFlag("progress", rootCmd.Flags().Lookup("progress"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".gravilens" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".gravilens")
	}

	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func runWarp(cmd *cobra.Command, args []string) error {
	input := viper.GetString("input")
	if input == "" {
		return cmd.Help()
	}

	inner := viper.GetFloat64("inner")
	outer := viper.GetFloat64("outer")

	if inner < 0 || inner > 100 {
		return fmt.Errorf("inner radius must be between 0 and 100 percent")
	}
	if outer < 0 || outer > 100 {
		return fmt.Errorf("outer radius must be between 0 and 100 percent")
	}

	workers := viper.GetInt("workers")
	if workers < 0 {
		return fmt.Errorf("workers must not be negative")
	}

	opts := &lens.Options{
		Params: lens.Params{
			InnerRadiusPercent: inner,
			OuterRadiusPercent: outer,
			Inside:             viper.GetBool("inside"),
		},
		Workers: workers,
	}

	if roi := viper.GetString("roi"); roi != "" {
		rect, err := raster.ParseRect(roi)
		if err != nil {
			return err
		}
		opts.Region = &rect
	}

	if viper.GetBool("progress") {
		opts.Progress = newProgressPrinter(cmd.ErrOrStderr())
	}

	src, err := raster.ReadFile(input)
	if err != nil {
		return err
	}

	warper := lens.New()
	result, err := warper.Warp(cmd.Context(), src, opts)
	if err != nil {
		return err
	}

	if viper.GetBool("progress") {
		fmt.Fprintln(cmd.ErrOrStderr())
	}

	return raster.WriteFile(viper.GetString("output"), result)
}

// newProgressPrinter returns a progress callback that rewrites a single
// stderr line whenever the completed percentage changes. The callback may be
// invoked from multiple worker goroutines.
func newProgressPrinter(out io.Writer) func(done, total int) {
	var mu sync.Mutex
	last := -1
	cyan := color.New(color.FgCyan)

	return func(done, total int) {
		pct := done * 100 / total

		mu.Lock()
		defer mu.Unlock()
		if pct <= last {
			return
		}
		last = pct
		cyan.Fprintf(out, "\rWarping space... %3d%%", pct)
	}
}
