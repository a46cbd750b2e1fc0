// Command fileshare is a CLI client for the fileshare HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

type cliOpts struct {
	v *viper.Viper
}

func (o *cliOpts) server() string { return o.v.GetString("server") }

// client builds an API client. With auth the saved session token is attached.
func (o *cliOpts) client(auth bool) (*client, error) {
	hc, err := httpClient(o.v.GetString("cacert"), o.v.GetBool("insecure"), o.v.GetDuration("timeout"))
	if err != nil {
		return nil, err
	}
	if !auth {
		return newClient(o.server(), "", hc), nil
	}
	tf, err := loadToken()
	if err != nil {
		return nil, err
	}
	base := o.server()
	if !o.v.IsSet("server") && tf.Server != "" {
		base = tf.Server
	}
	return newClient(base, tf.AccessToken, hc), nil
}

func newRootCmd() *cobra.Command {
	o := &cliOpts{v: viper.New()}
	o.v.SetEnvPrefix("FILESHARE")
	o.v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "fileshare",
		Short:         "Command-line client for the fileshare server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.String("server", "http://localhost:8080", "server base URL (env FILESHARE_SERVER)")
	pf.String("cacert", "", "CA certificate (PEM) for https servers")
	pf.Bool("insecure", false, "skip TLS verification (dev)")
	pf.Duration("timeout", 5*time.Minute, "request timeout")
	for _, name := range []string{"server", "cacert", "insecure", "timeout"} {
		_ = o.v.BindPFlag(name, pf.Lookup(name))
	}

	root.AddCommand(
		versionCmd(),
		registerCmd(o),
		loginCmd(o),
		logoutCmd(o),
		uploadCmd(o),
		listCmd(o),
		downloadCmd(o),
		deleteCmd(o),
		shareCmd(o),
		revokeCmd(o),
		sharedWithMeCmd(o),
		getSharedCmd(o),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print client version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "fileshare %s (%s)\n", version, buildDate)
		},
	}
}

func registerCmd(o *cliOpts) *cobra.Command {
	var u, e, p string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := o.client(false)
			if err != nil {
				return err
			}
			id, err := c.register(cmd.Context(), u, e, p)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringVarP(&u, "username", "u", "", "username")
	cmd.Flags().StringVarP(&e, "email", "e", "", "email")
	cmd.Flags().StringVarP(&p, "password", "p", "", "password")
	for _, f := range []string{"username", "email", "password"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func loginCmd(o *cliOpts) *cobra.Command {
	var u, p string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and save the session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := o.client(false)
			if err != nil {
				return err
			}
			s, err := c.login(cmd.Context(), u, p)
			if err != nil {
				return err
			}
			if err := saveToken(tokenFile{
				AccessToken: s.SessionToken,
				ExpiresAt:   s.ExpiresAt,
				UserID:      s.UserID,
				Username:    s.Username,
				Server:      o.server(),
			}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s (user %d) until %s\n",
				s.Username, s.UserID, s.ExpiresAt.Local().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVarP(&u, "username", "u", "", "username")
	cmd.Flags().StringVarP(&p, "password", "p", "", "password")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func logoutCmd(o *cliOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and forget the saved token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := o.client(true)
			if errors.Is(err, errLoginRequired) {
				return removeToken()
			}
			if err != nil {
				return err
			}
			var ae *apiError
			if err := c.logout(cmd.Context()); err != nil && !(errors.As(err, &ae) && ae.Status == 401) {
				return err
			}
			if err := removeToken(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

func uploadCmd(o *cliOpts) *cobra.Command {
	var name, ctype string
	cmd := &cobra.Command{
		Use:   "upload <path|->",
		Short: "Upload a file (- reads stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.client(true)
			if err != nil {
				return err
			}
			in, size, err := openInput(args[0])
			if err != nil {
				return err
			}
			defer in.Close()

			if name == "" && args[0] != "-" {
				name = filepath.Base(args[0])
			}
			if ctype == "" && name != "" {
				ctype = mime.TypeByExtension(filepath.Ext(name))
			}
			fi, err := c.upload(cmd.Context(), in, size, name, ctype)
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), fi)
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "stored filename (default: base name of path)")
	cmd.Flags().StringVarP(&ctype, "type", "t", "", "content type (default: guessed from extension)")
	return cmd
}

func listCmd(o *cliOpts) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List your files, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := o.client(true)
			if err != nil {
				return err
			}
			files, err := c.files(cmd.Context())
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), files)
			return nil
		},
	}
}

func downloadCmd(o *cliOpts) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "download <file-id>",
		Short: "Download one of your files or a file shared with you",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			c, err := o.client(true)
			if err != nil {
				return err
			}
			d, err := c.downloadFile(cmd.Context(), id)
			if err != nil {
				return err
			}
			return saveDownload(cmd, d, out)
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "output path, - for stdout (default: server filename)")
	return cmd
}

func getSharedCmd(o *cliOpts) *cobra.Command {
	var out string
	var anonymous bool
	cmd := &cobra.Command{
		Use:   "get-shared <token>",
		Short: "Download a file by share token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.client(!anonymous)
			if errors.Is(err, errLoginRequired) {
				// public links work without a session
				c, err = o.client(false)
			}
			if err != nil {
				return err
			}
			d, err := c.downloadShared(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return saveDownload(cmd, d, out)
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "output path, - for stdout (default: server filename)")
	cmd.Flags().BoolVar(&anonymous, "anonymous", false, "do not send the saved session token")
	return cmd
}

func deleteCmd(o *cliOpts) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <file-id>",
		Aliases: []string{"rm"},
		Short:   "Delete one of your files and every share of it",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			c, err := o.client(true)
			if err != nil {
				return err
			}
			if err := c.deleteFile(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

func shareCmd(o *cliOpts) *cobra.Command {
	var hours float64
	var with int64
	cmd := &cobra.Command{
		Use:   "share <file-id>",
		Short: "Create a share link (public unless --with is given)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			c, err := o.client(true)
			if err != nil {
				return err
			}
			p := shareParams{FileID: id}
			if cmd.Flags().Changed("hours") {
				p.ExpiryHours = &hours
			}
			if cmd.Flags().Changed("with") {
				p.SharedWithUserID = &with
			}
			info, err := c.share(cmd.Context(), p)
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), info)
			return nil
		},
	}
	cmd.Flags().Float64Var(&hours, "hours", 0, "expiry in hours (default: server setting)")
	cmd.Flags().Int64Var(&with, "with", 0, "share privately with this user id")
	return cmd
}

func revokeCmd(o *cliOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <token>",
		Short: "Revoke a share you created",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.client(true)
			if err != nil {
				return err
			}
			if err := c.revoke(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

func sharedWithMeCmd(o *cliOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "shared-with-me",
		Short: "List files other users shared with you",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := o.client(true)
			if err != nil {
				return err
			}
			files, err := c.sharedWithMe(cmd.Context())
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), files)
			return nil
		},
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid file id %q", s)
	}
	return id, nil
}

// saveDownload writes d to out, stdout for "-", or the server-suggested name.
func saveDownload(cmd *cobra.Command, d download, out string) error {
	defer d.Body.Close()
	if out == "-" {
		_, err := io.Copy(cmd.OutOrStdout(), d.Body)
		return err
	}
	if out == "" {
		out = filepath.Base(d.Filename)
		if out == "" || out == "." || out == "/" {
			out = "download"
		}
	}
	f, err := os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	n, err := io.Copy(f, d.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(out)
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "saved %s (%d bytes)\n", out, n)
	return nil
}

func main() {
	ctx := context.Background()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
