package capture

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/strrl/mathchat/internal/db"
)

// Summary describes one capture file
type Summary struct {
	File      string
	Lines     int64
	Fragments int64
	DoneLines int64
	Chars     int64
	ChatID    *int64
}

// Inspect aggregates every capture in dir, oldest file name first. A
// directory without captures yields an empty result.
func Inspect(ctx context.Context, dir string) ([]Summary, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+Ext))
	if err != nil {
		return nil, fmt.Errorf("invalid capture directory: %w", err)
	}
	if len(matches) == 0 {
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("failed to read capture directory: %w", err)
		}
		return []Summary{}, nil
	}

	database, err := db.GetDB()
	if err != nil {
		return nil, err
	}

	globPattern := filepath.Join(dir, "*"+Ext)
	query := fmt.Sprintf(`
		SELECT 
			filename,
			COUNT(*) as lines,
			COUNT(*) FILTER (WHERE response IS NOT NULL AND NOT COALESCE(done, false)) as fragments,
			COUNT(*) FILTER (WHERE COALESCE(done, false)) as done_lines,
			CAST(COALESCE(SUM(LENGTH(response)) FILTER (WHERE NOT COALESCE(done, false)), 0) AS BIGINT) as chars,
			MAX(chat_id) as chat_id
		FROM read_json('%s',
			format = 'newline_delimited',
			columns = {response: 'VARCHAR', done: 'BOOLEAN', chat_id: 'BIGINT'},
			filename = true,
			ignore_errors = true
		)
		GROUP BY filename
		ORDER BY filename
	`, strings.ReplaceAll(globPattern, "'", "''"))

	rows, err := database.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to execute capture query: %w", err)
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		var s Summary
		var chatID sql.NullInt64
		if err := rows.Scan(&s.File, &s.Lines, &s.Fragments, &s.DoneLines, &s.Chars, &chatID); err != nil {
			return nil, fmt.Errorf("failed to scan capture summary: %w", err)
		}
		if chatID.Valid {
			id := chatID.Int64
			s.ChatID = &id
		}
		s.File = filepath.Base(s.File)
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read capture summaries: %w", err)
	}

	return summaries, nil
}
