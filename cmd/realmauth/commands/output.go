package commands

import (
	"encoding/json"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/florianilch/realmauth/internal/tokenstore"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderAccounts(w io.Writer, records []*tokenstore.Record) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Account", "Authenticator", "Base URL", "Realm", "Client ID", "Access expires", "Refresh expires"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Access expires", Align: text.AlignRight},
		{Name: "Refresh expires", Align: text.AlignRight},
	})

	for _, rec := range records {
		refresh := "-"
		switch {
		case rec.Expires.Refresh != nil:
			refresh = formatExpiry(*rec.Expires.Refresh)
		case rec.HasRefreshToken():
			refresh = "never"
		}
		t.AppendRow(table.Row{
			describeAccount(rec.Name, rec.Email),
			rec.Authenticator,
			rec.BaseURL,
			rec.Realm,
			rec.ClientID,
			formatExpiry(rec.Expires.Access),
			refresh,
		})
	}
	t.Render()
}

func formatExpiry(t time.Time) string {
	return t.Local().Format(time.DateTime)
}
