package cli

import (
	"encoding/xml"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// QWC is the application file the Web Connector imports.
type QWC struct {
	XMLName        xml.Name `xml:"QBWCXML"`
	AppName        string   `xml:"AppName"`
	AppID          string   `xml:"AppID"`
	AppURL         string   `xml:"AppURL"`
	AppDescription string   `xml:"AppDescription"`
	AppSupport     string   `xml:"AppSupport"`
	UserName       string   `xml:"UserName"`
	OwnerID        string   `xml:"OwnerID"`
	FileID         string   `xml:"FileID"`
	QBType         string   `xml:"QBType"`
	Scheduler      *struct {
		RunEveryNMinutes int `xml:"RunEveryNMinutes"`
	} `xml:"Scheduler,omitempty"`
	IsReadOnly bool `xml:"IsReadOnly"`
}

// QWCOptions parameterizes WriteQWC
type QWCOptions struct {
	AppName  string
	URL      string
	Support  string
	UserName string
	OwnerID  string
	FileID   string
	Minutes  int
}

// WriteQWC renders the application file. Missing ids are generated.
func WriteQWC(w io.Writer, opts QWCOptions) error {
	doc := QWC{
		AppName:        opts.AppName,
		AppURL:         opts.URL,
		AppDescription: "Inventory sync with the commerce platform",
		AppSupport:     opts.Support,
		UserName:       opts.UserName,
		OwnerID:        braced(opts.OwnerID),
		FileID:         braced(opts.FileID),
		QBType:         "QBFS",
	}
	if doc.AppSupport == "" {
		doc.AppSupport = strings.TrimSuffix(opts.URL, "/qbwc") + "/health"
	}
	if opts.Minutes > 0 {
		doc.Scheduler = &struct {
			RunEveryNMinutes int `xml:"RunEveryNMinutes"`
		}{RunEveryNMinutes: opts.Minutes}
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// braced formats a GUID the way the Web Connector expects
func braced(id string) string {
	id = strings.Trim(id, "{}")
	if id == "" {
		id = uuid.NewString()
	}
	return "{" + strings.ToUpper(id) + "}"
}

// NewQWCCommand creates the qwc command.
func NewQWCCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		opts   QWCOptions
		output string
	)

	cmd := &cobra.Command{
		Use:   "qwc",
		Short: "Generate the Web Connector application file",
		Long: `Write the .qwc file that registers this service with the Web Connector.
The user name defaults to QBWC_USERNAME.

Example:
  stocksync qwc --url https://sync.example.com/qbwc -o stocksync.qwc`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.UserName == "" {
				opts.UserName = rootOpts.loadConfig().SessionUsername
			}
			if opts.URL == "" || opts.UserName == "" {
				return NewExitError(ExitCommandError, "--url and a user name (flag or QBWC_USERNAME) are required")
			}

			w := cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to create "+output, err)
				}
				defer f.Close()
				w = f
			}
			if err := WriteQWC(w, opts); err != nil {
				return WrapExitError(ExitFailure, "failed to write qwc", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.AppName, "app-name", "stocksync", "application name shown by the Web Connector")
	cmd.Flags().StringVar(&opts.URL, "url", "", "public URL of the /qbwc endpoint (https)")
	cmd.Flags().StringVar(&opts.Support, "support-url", "", "support URL (defaults to the health endpoint)")
	cmd.Flags().StringVar(&opts.UserName, "username", "", "Web Connector user name")
	cmd.Flags().StringVar(&opts.OwnerID, "owner-id", "", "owner GUID (generated when empty)")
	cmd.Flags().StringVar(&opts.FileID, "file-id", "", "file GUID (generated when empty)")
	cmd.Flags().IntVar(&opts.Minutes, "every", 5, "scheduled run interval in minutes (0 disables)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")

	return cmd
}
