package cli

import (
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/enexport/internal/application"
	"github.com/JonMunkholm/enexport/internal/backup"
	"github.com/JonMunkholm/enexport/internal/config"
	"github.com/JonMunkholm/enexport/internal/core"
	"github.com/JonMunkholm/enexport/internal/enapi"
	"github.com/JonMunkholm/enexport/internal/logging"
)

// rangeFlags are the flags every command that downloads shares.
type rangeFlags struct {
	start, end string
	token      string
	delimiter  string
	charset    string
	backupDir  string
	backupFile string
	backupS3   string
	noBackup   bool
}

func (f *rangeFlags) register(c *cobra.Command) {
	c.Flags().StringVar(&f.start, "start", "", "first day to export, YYYY-MM-DD in EN time (required)")
	c.Flags().StringVar(&f.end, "end", "", "last day to export, inclusive (required)")
	c.Flags().StringVar(&f.token, "token", "", "EN private token (default EN_PRIVATE_TOKEN)")
	c.Flags().StringVar(&f.delimiter, "delimiter", "", "CSV delimiter of the export (default EN_CSV_DELIMITER)")
	c.Flags().StringVar(&f.charset, "charset", "", "charset of the export (default EN_CHARSET)")
	c.Flags().StringVar(&f.backupDir, "backup-dir", "", "keep the raw export in this directory")
	c.Flags().StringVar(&f.backupFile, "backup-file", "", "name of the backup file (default generated)")
	c.Flags().StringVar(&f.backupS3, "backup-s3", "", "keep the raw export in S3, as bucket[/prefix]")
	c.Flags().BoolVar(&f.noBackup, "no-backup", false, "do not keep a raw copy even if one is configured")
	_ = c.MarkFlagRequired("start")
	_ = c.MarkFlagRequired("end")
}

// options merges flags over the configured download defaults.
func (f *rangeFlags) options(c *cobra.Command, cfg *config.Config) (enapi.Options, error) {
	ctx := c.Context()

	// Flags replace the configured backup target instead of adding to it.
	base := *cfg
	if f.noBackup || f.backupDir != "" || f.backupS3 != "" {
		base.Backup.Dir = ""
		base.Backup.S3Bucket = ""
	}
	opts, err := application.DownloadOptions(ctx, &base)
	if err != nil {
		return opts, err
	}

	opts.PrivateToken = f.token
	if c.Flags().Changed("delimiter") {
		d, err := config.ParseDelimiter(f.delimiter)
		if err != nil {
			return opts, &core.ArgumentError{Message: err.Error()}
		}
		opts.Delimiter = d
	}
	if f.charset != "" {
		enc, err := core.LookupEncoding(f.charset)
		if err != nil {
			return opts, &core.ArgumentError{Message: err.Error()}
		}
		opts.Encoding = enc
	}
	if f.backupFile != "" {
		opts.BackupFileName = f.backupFile
	}

	switch {
	case f.noBackup:
	case f.backupS3 != "":
		bucket, prefix := backup.ParseS3Path(f.backupS3)
		newBackup, err := application.S3Backup(ctx, backup.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       cfg.Backup.S3Region,
			Endpoint:     cfg.Backup.S3Endpoint,
			UsePathStyle: cfg.Backup.S3PathStyle,
		})
		if err != nil {
			return opts, &core.BackupWriteError{Err: err}
		}
		opts.NewBackup = newBackup
	case f.backupDir != "":
		opts.BackupDir = f.backupDir
	}
	return opts, nil
}

func downloadCmd(a *app) *cobra.Command {
	var (
		rf     rangeFlags
		format string
		output string
	)

	c := &cobra.Command{
		Use:   "download",
		Short: "Download transactions for a date range and print them",
		Example: `  enexport download --start 2024-03-01 --end 2024-03-31 --backup-dir backup
  enexport download --start 2024-03-01 --end 2024-03-01 --format csv -o march-1.csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			client, err := application.NewClient(a.cfg)
			if err != nil {
				return err
			}
			opts, err := rf.options(cmd, a.cfg)
			if err != nil {
				return err
			}

			w, closeOut, err := a.openOutput(output)
			if err != nil {
				return err
			}
			defer closeOut()
			sink, err := newRecordSink(format, w)
			if err != nil {
				return err
			}

			sess, err := client.DownloadTransactions(ctx, rf.start, rf.end, opts)
			if err != nil {
				return err
			}
			defer sess.Close()

			for rec, err := range sess.All(ctx) {
				if err != nil {
					return err
				}
				if err := sink.Write(rec); err != nil {
					return err
				}
			}
			if err := sink.Close(sess.Header()); err != nil {
				return err
			}

			log := logging.FromContext(ctx).With("download_id", sess.ID())
			if n, ok := sess.ExpectedCount(); ok {
				log.Info("download finished", "records", sess.Emitted(), "expected", n, "bytes", sess.BytesRead())
			} else {
				log.Info("download finished", "records", sess.Emitted(), "bytes", sess.BytesRead())
			}
			return closeOut()
		},
	}

	rf.register(c)
	c.Flags().StringVar(&format, "format", "ndjson", "output format: ndjson|csv|count")
	c.Flags().StringVarP(&output, "output", "o", "", "write records to this file instead of stdout")
	return c
}
