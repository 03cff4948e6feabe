// objctl is a small operational CLI over the objectstore backends. The
// backend and its parameters come from a config file:
//
//	backend: s3
//	parameters:
//	  bucket: my-bucket
//	  region: us-east-1
//
// Every parameter can also be supplied through the environment as
// OBJCTL_PARAMETERS_<KEY>.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	objectstore "github.com/jeschkies/objectstore"
	"github.com/jeschkies/objectstore/factory"

	// Register the backend adapters.
	_ "github.com/jeschkies/objectstore/azure"
	_ "github.com/jeschkies/objectstore/filesystem"
	_ "github.com/jeschkies/objectstore/gcs"
	_ "github.com/jeschkies/objectstore/inmemory"
	_ "github.com/jeschkies/objectstore/s3"
)

var (
	configFile string
	logLevel   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "objctl",
	Short:         "objctl reads and writes objects through the objectstore backends",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", logLevel, err)
		}
		logrus.SetLevel(level)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "backend config file (default objctl.yml, then $HOME/.objctl.yml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warning", "log level (debug, info, warning, error)")

	rootCmd.AddCommand(putCmd, getCmd, lsCmd, rmCmd, statCmd, cpCmd, mvCmd, signCmd, backendsCmd)
	lsCmd.Flags().BoolVarP(&lsLong, "long", "l", false, "print size and modification time")
	signCmd.Flags().DurationVar(&signExpires, "expires", 20*time.Minute, "how long the URL stays valid")
}

// openStore builds the configured Store.
func openStore(ctx context.Context) (objectstore.Store, error) {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("objctl")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
	}
	v.SetEnvPrefix("objctl")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	backend := v.GetString("backend")
	if backend == "" {
		return nil, fmt.Errorf("config: no backend set (one of: %s)", strings.Join(factory.Backends(), ", "))
	}
	parameters := v.GetStringMap("parameters")
	if parameters == nil {
		parameters = map[string]interface{}{}
	}
	return factory.Create(ctx, backend, parameters)
}

func parseArgPath(arg string) (objectstore.Path, error) {
	p, err := objectstore.ParsePath(arg)
	if err != nil {
		return objectstore.Path{}, fmt.Errorf("invalid path %q: %w", arg, err)
	}
	return p, nil
}

var putCmd = &cobra.Command{
	Use:   "put <path> [file]",
	Short: "store a file (or stdin) at a path",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		path, err := parseArgPath(args[0])
		if err != nil {
			return err
		}

		var src io.Reader = os.Stdin
		sizeHint := int64(-1)
		if len(args) == 2 {
			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()
			if info, err := f.Stat(); err == nil {
				sizeHint = info.Size()
			}
			src = f
		}

		meta, err := store.PutStream(ctx, path, src, sizeHint)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "stored %s (%d bytes)\n", meta.Path, meta.Size)
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <path> [file]",
	Short: "fetch an object to a file (or stdout)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		path, err := parseArgPath(args[0])
		if err != nil {
			return err
		}

		res, err := store.Get(ctx, path)
		if err != nil {
			return err
		}
		defer res.Body.Close()

		var dst io.Writer = cmd.OutOrStdout()
		if len(args) == 2 {
			f, err := os.Create(args[1])
			if err != nil {
				return err
			}
			defer f.Close()
			dst = f
		}
		_, err = io.Copy(dst, res.Body)
		return err
	},
}

var lsLong bool

var lsCmd = &cobra.Command{
	Use:   "ls [prefix]",
	Short: "list objects below a prefix",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		var prefix objectstore.Path
		if len(args) == 1 {
			prefix, err = parseArgPath(args[0])
			if err != nil {
				return err
			}
		}

		it := store.List(ctx, prefix)
		for {
			meta, err := it.Next()
			if err == objectstore.Done {
				return nil
			}
			if err != nil {
				return err
			}
			if lsLong {
				fmt.Fprintf(cmd.OutOrStdout(), "%12d  %s  %s\n",
					meta.Size, meta.LastModified.Format(time.RFC3339), meta.Path)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), meta.Path)
			}
		}
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <path>",
	Short: "delete an object",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		path, err := parseArgPath(args[0])
		if err != nil {
			return err
		}
		return store.Delete(ctx, path)
	},
}

var statCmd = &cobra.Command{
	Use:   "stat <path>",
	Short: "print an object's metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		path, err := parseArgPath(args[0])
		if err != nil {
			return err
		}
		meta, err := store.Head(ctx, path)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "path:          %s\n", meta.Path)
		fmt.Fprintf(out, "size:          %d\n", meta.Size)
		fmt.Fprintf(out, "last-modified: %s\n", meta.LastModified.Format(time.RFC3339))
		if meta.ETag != "" {
			fmt.Fprintf(out, "etag:          %s\n", meta.ETag)
		}
		return nil
	},
}

var cpCmd = &cobra.Command{
	Use:   "cp <src> <dst>",
	Short: "copy an object",
	Args:  cobra.ExactArgs(2),
	RunE: runTwoPathOp(func(ctx context.Context, s objectstore.Store, src, dst objectstore.Path) error {
		return s.Copy(ctx, src, dst)
	}),
}

var mvCmd = &cobra.Command{
	Use:   "mv <src> <dst>",
	Short: "move an object",
	Args:  cobra.ExactArgs(2),
	RunE: runTwoPathOp(func(ctx context.Context, s objectstore.Store, src, dst objectstore.Path) error {
		return s.Rename(ctx, src, dst)
	}),
}

func runTwoPathOp(op func(context.Context, objectstore.Store, objectstore.Path, objectstore.Path) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		src, err := parseArgPath(args[0])
		if err != nil {
			return err
		}
		dst, err := parseArgPath(args[1])
		if err != nil {
			return err
		}
		return op(ctx, store, src, dst)
	}
}

var signExpires time.Duration

var signCmd = &cobra.Command{
	Use:   "sign <path>",
	Short: "mint a presigned GET URL, on backends supporting it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		path, err := parseArgPath(args[0])
		if err != nil {
			return err
		}
		signer, ok := store.(objectstore.URLSigner)
		if !ok {
			return fmt.Errorf("backend %q does not support signed URLs", store.Name())
		}
		url, err := signer.SignedURL(path, signExpires)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), url)
		return nil
	},
}

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "list the compiled-in backends",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, name := range factory.Backends() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}
