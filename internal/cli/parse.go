package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/enexport/internal/config"
	"github.com/JonMunkholm/enexport/internal/core"
)

func parseCmd(a *app) *cobra.Command {
	var (
		delimiter string
		charset   string
		expected  int
		format    string
		output    string
	)

	c := &cobra.Command{
		Use:   "parse FILE",
		Short: "Parse a saved export, such as a backup, with the download rules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := core.StreamOptions{}

			if !cmd.Flags().Changed("delimiter") {
				delimiter = a.cfg.ENAPI.CSVDelimiter
			}
			d, err := config.ParseDelimiter(delimiter)
			if err != nil {
				return &core.ArgumentError{Message: err.Error()}
			}
			opts.Delimiter = d

			if charset == "" {
				charset = a.cfg.ENAPI.Charset
			}
			if opts.Encoding, err = core.LookupEncoding(charset); err != nil {
				return &core.ArgumentError{Message: err.Error()}
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			w, closeOut, err := a.openOutput(output)
			if err != nil {
				return err
			}
			defer closeOut()
			sink, err := newRecordSink(format, w)
			if err != nil {
				return err
			}

			var header []string
			for rec, err := range core.ReadTransactions(f, opts, expected) {
				if err != nil {
					return err
				}
				if header == nil {
					header = rec.Names()
				}
				if err := sink.Write(rec); err != nil {
					return err
				}
			}
			if err := sink.Close(header); err != nil {
				return err
			}
			return closeOut()
		},
	}

	c.Flags().StringVar(&delimiter, "delimiter", "", "CSV delimiter of the file (default EN_CSV_DELIMITER)")
	c.Flags().StringVar(&charset, "charset", "", "charset of the file (default EN_CHARSET)")
	c.Flags().IntVar(&expected, "expected", -1, "fail unless the file holds exactly this many records")
	c.Flags().StringVar(&format, "format", "ndjson", "output format: ndjson|csv|count")
	c.Flags().StringVarP(&output, "output", "o", "", "write records to this file instead of stdout")
	return c
}
