// The larz CLI packs files and directory trees into an LZ4 compressed tar
// container and extracts them again.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"larz/lib"
	"larz/pkg/progress"
)

// containerExt is appended to the input name when no output is given.
const containerExt = ".larz"

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

// newApp builds the CLI. Progress lines are written to out.
func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:      "larz",
		Usage:     "Pack paths into an LZ4 compressed tar container and back",
		Writer:    out,
		ErrWriter: out,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "log-level", Value: "warn", Usage: "Set log level (panic, fatal, error, warn, info, debug, trace)", EnvVars: []string{"LOG_LEVEL"}},
		},
		Before: func(c *cli.Context) error {
			level, err := logrus.ParseLevel(c.String("log-level"))
			if err != nil {
				return err
			}
			logrus.SetLevel(level)
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "compress",
				Usage:     "Pack files and directories into a container",
				ArgsUsage: "PATH...",
				Flags: []cli.Flag{
					modeFlag(),
					quietFlag(),
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Container path, defaults to the input name plus " + containerExt, EnvVars: []string{"LARZ_OUTPUT"}},
					&cli.StringFlag{Name: "level", Aliases: []string{"l"}, Value: "fast", Usage: "Compression level: fast or 1-9", EnvVars: []string{"LARZ_LEVEL"}},
					&cli.StringFlag{Name: "block-size", Value: "4MB", Usage: "Frame block size in streaming mode: 64KB, 256KB, 1MB or 4MB", EnvVars: []string{"LARZ_BLOCK_SIZE"}},
					&cli.UintFlag{Name: "file-mode", Value: uint(lib.DefaultFileMode), Usage: "Permission bits of the container file", EnvVars: []string{"LARZ_FILE_MODE"}},
				},
				Action: func(c *cli.Context) error {
					return runCompress(c, out)
				},
			},
			{
				Name:      "extract",
				Usage:     "Unpack containers into a directory",
				ArgsUsage: "ARCHIVE...",
				Flags: []cli.Flag{
					modeFlag(),
					quietFlag(),
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Value: ".", Usage: "Directory to extract into", EnvVars: []string{"LARZ_OUTPUT"}},
				},
				Action: func(c *cli.Context) error {
					return runExtract(c, out)
				},
			},
		},
	}
}

func modeFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "mode",
		Aliases: []string{"m"},
		Value:   lib.Streaming.Name(),
		Usage:   "Container format: streaming (LZ4 frames, bounded memory) or memory (single LZ4 block)",
		EnvVars: []string{"LARZ_MODE"},
	}
}

func quietFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:    "quiet",
		Aliases: []string{"q"},
		Usage:   "Do not print progress lines",
		EnvVars: []string{"LARZ_QUIET"},
	}
}

// runCompress handles the compress command
func runCompress(c *cli.Context, out io.Writer) error {
	format, err := lib.FormatByName(c.String("mode"))
	if err != nil {
		return err
	}
	level, err := lib.ParseCompressionLevel(c.String("level"))
	if err != nil {
		return err
	}
	blockSize, err := lib.ParseBlockSize(c.String("block-size"))
	if err != nil {
		return err
	}

	inputs, err := absPaths(c.Args().Slice())
	if err != nil {
		return err
	}
	output, err := determineOutputPath(c.String("output"), inputs)
	if err != nil {
		return err
	}

	opts := append(commonOptions(c, out),
		lib.WithCompressionLevel(level),
		lib.WithBlockSize(blockSize),
		lib.WithFileMode(os.FileMode(c.Uint("file-mode"))),
	)
	stats, err := format.Compress(inputs, output, opts...)
	if err != nil {
		return err
	}

	container := stats.Containers[0]
	logrus.WithFields(logrus.Fields{
		"output": container.Path,
		"digest": container.Digest,
		"size":   humanize.IBytes(container.Size),
		"ratio":  fmt.Sprintf("%.2f", ratio(stats.TarBytes, container.Size)),
	}).Info("container written")
	return nil
}

// runExtract handles the extract command
func runExtract(c *cli.Context, out io.Writer) error {
	format, err := lib.FormatByName(c.String("mode"))
	if err != nil {
		return err
	}
	if c.NArg() == 0 {
		return fmt.Errorf("at least one archive is required")
	}

	archives, err := absPaths(c.Args().Slice())
	if err != nil {
		return err
	}
	outputDir, err := filepath.Abs(c.String("output"))
	if err != nil {
		return fmt.Errorf("resolve output directory: %w", err)
	}

	stats, err := format.Extract(archives, outputDir, commonOptions(c, out)...)
	if err != nil {
		return err
	}
	for _, container := range stats.Containers {
		logrus.WithFields(logrus.Fields{
			"archive": container.Path,
			"digest":  container.Digest,
		}).Info("container extracted")
	}
	return nil
}

// commonOptions returns the options shared by both commands
func commonOptions(c *cli.Context, out io.Writer) []lib.Option {
	opts := []lib.Option{lib.WithLogger(logrus.StandardLogger())}
	if !c.Bool("quiet") {
		opts = append(opts, lib.WithProgress(progress.NewPrinter(out)))
	}
	return opts
}

// absPaths resolves every path against the working directory
func absPaths(paths []string) ([]string, error) {
	abs := make([]string, 0, len(paths))
	for _, p := range paths {
		a, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", p, err)
		}
		abs = append(abs, a)
	}
	return abs, nil
}

// determineOutputPath determines the output path for compression
func determineOutputPath(output string, inputs []string) (string, error) {
	// If output is provided as a flag, use it
	if output != "" {
		return filepath.Abs(output)
	}

	// Otherwise, use input name + .larz extension
	if len(inputs) != 1 {
		return "", fmt.Errorf("--output is required unless exactly one input path is given")
	}
	return filepath.Abs(filepath.Base(inputs[0]) + containerExt)
}

// ratio returns the compression ratio of tar bytes to container bytes
func ratio(tarBytes, containerBytes uint64) float64 {
	if containerBytes == 0 {
		return 0
	}
	return float64(tarBytes) / float64(containerBytes)
}
