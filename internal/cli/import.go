package cli

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/enexport/internal/application"
)

var errNoDatabase = errors.New("DATABASE_URL is not set; import needs a database")

func importCmd(a *app) *cobra.Command {
	var rf rangeFlags

	c := &cobra.Command{
		Use:   "import",
		Short: "Download transactions for a date range into Postgres",
		Long: `Download transactions for a date range and store them in the
en_downloads and en_transactions tables. Records are committed only when
the whole download succeeds; a failed download is kept as a failed row.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if !a.cfg.Database.Enabled() {
				return errNoDatabase
			}

			client, err := application.NewClient(a.cfg)
			if err != nil {
				return err
			}
			start, end, err := client.CheckDates(rf.start, rf.end)
			if err != nil {
				return err
			}
			opts, err := rf.options(cmd, a.cfg)
			if err != nil {
				return err
			}

			st, closeDB, err := application.OpenStore(ctx, &a.cfg.Database)
			if err != nil {
				return err
			}
			defer closeDB()

			sess, err := client.DownloadTransactions(ctx, rf.start, rf.end, opts)
			if err != nil {
				return err
			}
			defer sess.Close()

			res, err := st.Import(ctx, sess, start, end)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(a.stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}

	rf.register(c)
	return c
}
