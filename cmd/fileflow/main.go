package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"fileflow/internal/app"
	"fileflow/internal/config"
	"fileflow/internal/fileflow"
	"fileflow/internal/httpapi"
	"fileflow/internal/model"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates a FileFlowApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "Upload", "Serve").
func newApp(ctx context.Context, operation string) (*app.FileFlowApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewFileFlowApp(ctx, cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

func printFile(f *model.File) {
	flags := ""
	if f.Favorite {
		flags += "*"
	}
	if f.Shared {
		flags += "s"
	}
	if f.Encrypted {
		flags += "e"
	}
	fmt.Printf("%s  %-3s %10d  %s  %-24s  %s\n",
		f.ID,
		flags,
		f.Size,
		f.UpdatedAt.Local().Format("2006-01-02 15:04:05"),
		f.Type,
		f.Name,
	)
}

func printPage(p *fileflow.Page) {
	if p.Total == 0 {
		fmt.Println("No files.")
		return
	}
	for _, f := range p.Files {
		printFile(f)
	}
	pages := (p.Total + p.PageSize - 1) / p.PageSize
	fmt.Printf("\nPage %d of %d (%d file(s))\n", p.Page, pages, p.Total)
}

func listFlags(cmd *cobra.Command) fileflow.ListOptions {
	page, _ := cmd.Flags().GetInt("page")
	size, _ := cmd.Flags().GetInt("page-size")
	sort, _ := cmd.Flags().GetString("sort")
	asc, _ := cmd.Flags().GetBool("asc")
	return fileflow.ListOptions{Page: page, PageSize: size, SortField: sort, Ascending: asc}
}

func addListFlags(cmd *cobra.Command) {
	cmd.Flags().Int("page", 1, "Page number")
	cmd.Flags().Int("page-size", fileflow.DefaultPageSize, "Files per page")
	cmd.Flags().String("sort", fileflow.SortByUpdatedAt, "Sort field: name, size, type, createdAt or updatedAt")
	cmd.Flags().Bool("asc", false, "Sort ascending")
}

var rootCmd = &cobra.Command{
	Use:           "fileflow",
	Short:         "File storage with version history",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return fmt.Errorf("generating root key: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"], hex.EncodeToString(key))
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		fmt.Printf("Database:   %s\n", cfg.Database.Type)
		fmt.Printf("Blob Store: %s\n", cfg.Blob.Type)
		fmt.Printf("Staging:    %s (max %d bytes)\n", cfg.Staging.Type, cfg.Staging.MaxSize)
		fmt.Printf("Server:     %s\n", cfg.Server.Addr)
		return nil
	},
}

// encryption command
var encryptionCmd = &cobra.Command{
	Use:   "encryption",
	Short: "Manage encryption keys",
}

var encryptionInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the key pair used for encrypted files",
	RunE: func(cmd *cobra.Command, args []string) error {
		passphrase, err := readNewSecret("Passphrase")
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "InitEncryption")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.InitEncryption(passphrase); err != nil {
			a.Fail()
			return err
		}
		fmt.Println("Encryption keys generated.")
		return nil
	},
}

// account commands
var registerCmd = &cobra.Command{
	Use:   "register EMAIL",
	Short: "Create an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		password, err := readNewSecret("Password")
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "Register")
		if err != nil {
			return err
		}
		defer a.Close()

		user, err := a.Register(cmd.Context(), args[0], password, name)
		if err != nil {
			a.Fail()
			return err
		}
		fmt.Printf("Registered %s (%s)\n", user.Email, user.ID)
		return nil
	},
}

var loginCmd = &cobra.Command{
	Use:   "login EMAIL",
	Short: "Log in and save a credential",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readSecret("Password: ")
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "Login")
		if err != nil {
			return err
		}
		defer a.Close()

		user, credential, err := a.Login(cmd.Context(), args[0], password)
		if err != nil {
			a.Fail()
			return err
		}
		if err := saveCredential(credential); err != nil {
			a.Fail()
			return err
		}
		fmt.Printf("Logged in as %s\n", user.Email)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the saved credential",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := removeCredential(); err != nil {
			return err
		}
		fmt.Println("Logged out.")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the logged in user",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession("WhoAmI", func(_ context.Context, _ *app.FileFlowApp, user *model.User) error {
			fmt.Printf("%s <%s>\n", user.FullName, user.Email)
			fmt.Printf("ID: %s\n", user.ID)
			return nil
		})
	},
}

// upload command
var uploadCmd = &cobra.Command{
	Use:   "upload PATH",
	Short: "Upload a file or directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		recursive, _ := cmd.Flags().GetBool("recursive")
		tags, _ := cmd.Flags().GetStringSlice("tag")
		share, _ := cmd.Flags().GetStringSlice("share")
		encrypt, _ := cmd.Flags().GetBool("encrypt")
		mimeType, _ := cmd.Flags().GetString("type")

		return withSession("Upload", func(ctx context.Context, a *app.FileFlowApp, user *model.User) error {
			files, err := a.UploadPath(ctx, user, args[0], recursive, app.UploadOptions{
				Type:       mimeType,
				Tags:       tags,
				SharedWith: share,
				Encrypted:  encrypt,
			})
			for _, f := range files {
				printFile(f)
			}
			if err != nil {
				return fmt.Errorf("upload: %w", err)
			}
			fmt.Printf("Uploaded %d file(s)\n", len(files))
			return nil
		})
	},
}

// listing commands
var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List files you own or that are shared with you",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := listFlags(cmd)
		return withSession("List", func(ctx context.Context, a *app.FileFlowApp, user *model.User) error {
			page, err := a.List(ctx, user, opts)
			if err != nil {
				return err
			}
			printPage(page)
			return nil
		})
	},
}

var searchCmd = &cobra.Command{
	Use:   "search TERM",
	Short: "Search files by name or tag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := listFlags(cmd)
		return withSession("Search", func(ctx context.Context, a *app.FileFlowApp, user *model.User) error {
			page, err := a.Search(ctx, user, args[0], opts)
			if err != nil {
				return err
			}
			printPage(page)
			return nil
		})
	},
}

var infoCmd = &cobra.Command{
	Use:   "info ID",
	Short: "Show file details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession("Info", func(ctx context.Context, a *app.FileFlowApp, user *model.User) error {
			f, err := a.File(ctx, user, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("ID:        %s\n", f.ID)
			fmt.Printf("Name:      %s\n", f.Name)
			fmt.Printf("Type:      %s\n", f.Type)
			fmt.Printf("Size:      %d\n", f.Size)
			fmt.Printf("Owner:     %s\n", f.OwnerID)
			fmt.Printf("Created:   %s\n", f.CreatedAt.Local().Format(time.RFC3339))
			fmt.Printf("Updated:   %s\n", f.UpdatedAt.Local().Format(time.RFC3339))
			fmt.Printf("Favorite:  %t\n", f.Favorite)
			fmt.Printf("Encrypted: %t\n", f.Encrypted)
			fmt.Printf("Tags:      %s\n", strings.Join(f.Tags, ", "))
			fmt.Printf("Shared:    %s\n", strings.Join(f.SharedWith, ", "))
			return nil
		})
	},
}

// log command
var logCmd = &cobra.Command{
	Use:   "log ID",
	Short: "View file history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession("Versions", func(ctx context.Context, a *app.FileFlowApp, user *model.User) error {
			versions, err := a.Versions(ctx, user, args[0])
			if err != nil {
				return err
			}
			if len(versions) == 0 {
				fmt.Println("No versions.")
				return nil
			}
			for _, v := range versions {
				checksum := v.Checksum
				if len(checksum) > 12 {
					checksum = checksum[:12]
				}
				fmt.Printf("v%-4d %s  %-12s %10d  %s  %s\n",
					v.Number,
					v.CreatedAt.Local().Format("2006-01-02 15:04:05"),
					checksum,
					v.Size,
					v.CreatedBy,
					v.Changes,
				)
			}
			return nil
		})
	},
}

// version and file mutation commands
var commitCmd = &cobra.Command{
	Use:   "commit ID [PATH]",
	Short: "Add a version, with new content from PATH or as a note only",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		message, _ := cmd.Flags().GetString("message")
		return withSession("Commit", func(ctx context.Context, a *app.FileFlowApp, user *model.User) error {
			var v *model.Version
			var err error
			if len(args) == 2 {
				v, err = a.CommitPath(ctx, user, args[0], args[1], message)
			} else {
				v, err = a.Commit(ctx, user, args[0], nil, message)
			}
			if err != nil {
				return err
			}
			fmt.Printf("Created version %d of %s\n", v.Number, v.FileID)
			return nil
		})
	},
}

var favCmd = &cobra.Command{
	Use:   "fav ID",
	Short: "Toggle a file's favorite flag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession("ToggleFavorite", func(ctx context.Context, a *app.FileFlowApp, user *model.User) error {
			f, err := a.ToggleFavorite(ctx, user, args[0])
			if err != nil {
				return err
			}
			printFile(f)
			return nil
		})
	},
}

var tagCmd = &cobra.Command{
	Use:   "tag ID [TAG...]",
	Short: "Replace a file's tags",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession("SetTags", func(ctx context.Context, a *app.FileFlowApp, user *model.User) error {
			f, err := a.SetTags(ctx, user, args[0], args[1:])
			if err != nil {
				return err
			}
			fmt.Printf("Tags: %s\n", strings.Join(f.Tags, ", "))
			return nil
		})
	},
}

var shareCmd = &cobra.Command{
	Use:   "share ID USER_ID...",
	Short: "Share a file with other users",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession("Share", func(ctx context.Context, a *app.FileFlowApp, user *model.User) error {
			f, err := a.Share(ctx, user, args[0], args[1:]...)
			if err != nil {
				return err
			}
			fmt.Printf("Shared with: %s\n", strings.Join(f.SharedWith, ", "))
			return nil
		})
	},
}

var unshareCmd = &cobra.Command{
	Use:   "unshare ID USER_ID...",
	Short: "Stop sharing a file with users",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession("Unshare", func(ctx context.Context, a *app.FileFlowApp, user *model.User) error {
			f, err := a.Unshare(ctx, user, args[0], args[1:]...)
			if err != nil {
				return err
			}
			if len(f.SharedWith) == 0 {
				fmt.Println("No longer shared.")
				return nil
			}
			fmt.Printf("Shared with: %s\n", strings.Join(f.SharedWith, ", "))
			return nil
		})
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm ID...",
	Short: "Delete files and their history",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession("Delete", func(ctx context.Context, a *app.FileFlowApp, user *model.User) error {
			n, err := a.Delete(ctx, user, args)
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d file(s)\n", n)
			return nil
		})
	},
}

// get command
var getCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Download a version of a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		number, _ := cmd.Flags().GetInt("version")
		output, _ := cmd.Flags().GetString("output")

		return withSession("Download", func(ctx context.Context, a *app.FileFlowApp, user *model.User) error {
			passphrase := func() (string, error) { return readSecret("Passphrase: ") }

			if output == "" || output == "-" {
				_, err := a.Download(ctx, user, args[0], number, passphrase, os.Stdout)
				return err
			}

			tmp, err := os.CreateTemp(filepath.Dir(output), ".fileflow-*")
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer os.Remove(tmp.Name())

			v, err := a.Download(ctx, user, args[0], number, passphrase, tmp)
			if cerr := tmp.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
			if err := os.Rename(tmp.Name(), output); err != nil {
				return fmt.Errorf("writing %s: %w", output, err)
			}
			fmt.Fprintf(os.Stderr, "Wrote version %d to %s\n", v.Number, output)
			return nil
		})
	},
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, "Serve")
		if err != nil {
			return err
		}
		defer a.Close()

		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = a.Config().Server.Addr
		}

		if err := httpapi.Serve(ctx, addr, httpapi.NewRouter(a.Config().Server, a), a.Logger()); err != nil {
			a.Fail()
			return err
		}
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	encryptionCmd.AddCommand(encryptionInitCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(encryptionCmd)
	rootCmd.AddCommand(registerCmd)
	registerCmd.Flags().String("name", "", "Full name")
	registerCmd.MarkFlagRequired("name")
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)

	rootCmd.AddCommand(uploadCmd)
	uploadCmd.Flags().BoolP("recursive", "r", false, "Recurse into subdirectories")
	uploadCmd.Flags().StringSliceP("tag", "t", nil, "Tag to attach (repeatable)")
	uploadCmd.Flags().StringSlice("share", nil, "User ID to share with (repeatable)")
	uploadCmd.Flags().BoolP("encrypt", "e", false, "Encrypt content at rest")
	uploadCmd.Flags().String("type", "", "MIME type (detected from content when empty)")

	rootCmd.AddCommand(lsCmd)
	addListFlags(lsCmd)
	rootCmd.AddCommand(searchCmd)
	addListFlags(searchCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(logCmd)

	rootCmd.AddCommand(commitCmd)
	commitCmd.Flags().StringP("message", "m", "", "Description of the changes")
	rootCmd.AddCommand(favCmd)
	rootCmd.AddCommand(tagCmd)
	rootCmd.AddCommand(shareCmd)
	rootCmd.AddCommand(unshareCmd)
	rootCmd.AddCommand(rmCmd)

	rootCmd.AddCommand(getCmd)
	getCmd.Flags().IntP("version", "v", 0, "Version number (latest when 0)")
	getCmd.Flags().StringP("output", "o", "", "Output path (stdout when empty)")

	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address (defaults to server.addr in the config)")
}
