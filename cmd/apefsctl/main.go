// Command apefsctl creates, inspects, and replicates ApeFS images.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/apefs/go-apefs/backend/file"
	"github.com/apefs/go-apefs/filesystem/apefs"
	"github.com/apefs/go-apefs/sync"
	"github.com/apefs/go-apefs/util"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "apefsctl",
	Short: "Create, inspect, and replicate ApeFS images",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logrus.SetLevel(logrus.DebugLevel)
		}
	},
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(createCmd, backupCmd, restoreCmd, lsCmd, verifyCmd, inspectCmd)
}

var createCmd = &cobra.Command{
	Use:   "create <image> <size-bytes>",
	Short: "Format a new ApeFS image",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		size, err := parseSize(args[1])
		if err != nil {
			return err
		}
		storage, err := file.CreateTrunc(args[0], size)
		if err != nil {
			return fmt.Errorf("create %s: %w", args[0], err)
		}
		defer func() { _ = storage.Close() }()

		fs, err := apefs.Create(storage, size)
		if err != nil {
			return fmt.Errorf("format %s: %w", args[0], err)
		}
		defer func() { _ = fs.Close() }()

		logrus.WithFields(logrus.Fields{"image": args[0], "size": fs.Size()}).Info("apefsctl: created image")
		return nil
	},
}

var backupCmd = &cobra.Command{
	Use:   "backup <host-dir> <image>",
	Short: "Replay a host directory tree into a freshly created image sized to hold it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		hostDir, imagePath := args[0], args[1]

		size, err := dirSizeEstimate(hostDir)
		if err != nil {
			return fmt.Errorf("size estimate for %s: %w", hostDir, err)
		}

		storage, err := file.CreateTrunc(imagePath, size)
		if err != nil {
			return fmt.Errorf("create %s: %w", imagePath, err)
		}
		defer func() { _ = storage.Close() }()

		fs, err := apefs.Create(storage, size)
		if err != nil {
			return fmt.Errorf("format %s: %w", imagePath, err)
		}
		defer func() { _ = fs.Close() }()

		if err := sync.Backup(os.DirFS(hostDir), fs); err != nil {
			return fmt.Errorf("backup %s into %s: %w", hostDir, imagePath, err)
		}
		logrus.WithFields(logrus.Fields{"from": hostDir, "to": imagePath}).Info("apefsctl: backup complete")
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <image> <host-dir>",
	Short: "Extract an image's tree onto the host filesystem",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		imagePath, hostDir := args[0], args[1]

		storage, err := file.OpenFromPath(imagePath, true)
		if err != nil {
			return fmt.Errorf("open %s: %w", imagePath, err)
		}
		defer func() { _ = storage.Close() }()

		fs, err := apefs.Open(storage)
		if err != nil {
			return fmt.Errorf("open image %s: %w", imagePath, err)
		}
		defer func() { _ = fs.Close() }()

		if err := sync.Restore(fs, hostDir); err != nil {
			return fmt.Errorf("restore %s into %s: %w", imagePath, hostDir, err)
		}
		logrus.WithFields(logrus.Fields{"from": imagePath, "to": hostDir}).Info("apefsctl: restore complete")
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify <host-dir> <image>",
	Short: "Confirm an image holds exactly the contents of a host directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		hostDir, imagePath := args[0], args[1]

		storage, err := file.OpenFromPath(imagePath, true)
		if err != nil {
			return fmt.Errorf("open %s: %w", imagePath, err)
		}
		defer func() { _ = storage.Close() }()

		fs, err := apefs.Open(storage)
		if err != nil {
			return fmt.Errorf("open image %s: %w", imagePath, err)
		}
		defer func() { _ = fs.Close() }()

		if err := sync.Verify(os.DirFS(hostDir), fs); err != nil {
			return fmt.Errorf("verify: %w", err)
		}
		fmt.Println("ok: image matches host directory")
		return nil
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls <image> <path>",
	Short: "List a directory's entries",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		imagePath, dirPath := args[0], args[1]

		storage, err := file.OpenFromPath(imagePath, true)
		if err != nil {
			return fmt.Errorf("open %s: %w", imagePath, err)
		}
		defer func() { _ = storage.Close() }()

		fs, err := apefs.Open(storage)
		if err != nil {
			return fmt.Errorf("open image %s: %w", imagePath, err)
		}
		defer func() { _ = fs.Close() }()

		entries, err := fs.DirectoryEnum(dirPath)
		if err != nil {
			return fmt.Errorf("ls %s: %w", dirPath, err)
		}
		for _, e := range entries {
			kind := "file"
			if e.IsDirectory() {
				kind = "dir"
			}
			fmt.Printf("%-5s %6d  %s\n", kind, e.InodeNum, e.Name)
		}
		return nil
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <image>",
	Short: "Dump the raw superblock bytes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		storage, err := file.OpenFromPath(args[0], true)
		if err != nil {
			return fmt.Errorf("open %s: %w", args[0], err)
		}
		defer func() { _ = storage.Close() }()

		buf := make([]byte, apefs.SuperblockSize)
		if _, err := storage.ReadAt(buf, 0); err != nil {
			return fmt.Errorf("read superblock: %w", err)
		}
		fmt.Print(util.DumpByteSlice(buf, 16, true, true, false, nil))
		return nil
	},
}

func parseSize(s string) (int64, error) {
	var size int64
	if _, err := fmt.Sscanf(s, "%d", &size); err != nil || size <= 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return size, nil
}

// dirSizeEstimate sums the host directory's apparent file sizes and pads
// generously for directory metadata and index-block overhead, so the image
// backup creates is comfortably large enough to hold it.
func dirSizeEstimate(dir string) (int64, error) {
	var total int64
	err := filepathWalk(dir, func(size int64) {
		total += size
	})
	if err != nil {
		return 0, err
	}
	const overheadFactor = 2
	const minSize = 8 * 1024 * 1024
	estimate := total*overheadFactor + minSize
	return estimate, nil
}

func filepathWalk(dir string, visit func(size int64)) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		p := dir + "/" + entry.Name()
		if entry.IsDir() {
			if err := filepathWalk(p, visit); err != nil {
				return err
			}
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		visit(info.Size())
	}
	return nil
}
