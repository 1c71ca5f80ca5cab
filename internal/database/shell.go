package database

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"text/tabwriter"
)

const shellPrompt = "sql> "

// Shell runs a line-oriented SQL prompt against db. Statements end with
// ';' and may span lines. ".tables" lists tables and ".quit" or EOF exits.
// Statement errors are printed and the shell continues.
func Shell(ctx context.Context, db *sql.DB, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	var pending strings.Builder

	fmt.Fprint(out, shellPrompt)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())

		if pending.Len() == 0 {
			switch line {
			case "":
				fmt.Fprint(out, shellPrompt)
				continue
			case ".quit", ".exit":
				return nil
			case ".tables":
				line = "SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name;"
			}
		}

		pending.WriteString(line)
		if !strings.HasSuffix(line, ";") {
			pending.WriteString("\n")
			fmt.Fprint(out, "...> ")
			continue
		}

		stmt := pending.String()
		pending.Reset()
		if err := runStatement(ctx, db, stmt, out); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
		fmt.Fprint(out, shellPrompt)
	}
	fmt.Fprintln(out)
	return scanner.Err()
}

func runStatement(ctx context.Context, db *sql.DB, stmt string, out io.Writer) error {
	if !returnsRows(stmt) {
		res, err := db.ExecContext(ctx, stmt)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "ok (%d rows affected)\n", n)
		return nil
	}

	rows, err := db.QueryContext(ctx, stmt)
	if err != nil {
		return err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(cols, "\t"))

	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	count := 0
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		cells := make([]string, len(values))
		for i, v := range values {
			cells[i] = formatValue(v)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
		count++
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "(%d rows)\n", count)
	return nil
}

func returnsRows(stmt string) bool {
	fields := strings.Fields(stmt)
	if len(fields) == 0 {
		return false
	}
	switch strings.ToUpper(strings.TrimSuffix(fields[0], ";")) {
	case "SELECT", "PRAGMA", "WITH", "EXPLAIN", "VALUES":
		return true
	}
	return false
}

func formatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

// DBShell runs the sqlite3 command-line client on path
// with the caller's terminal attached and waits for it to exit.
func DBShell(ctx context.Context, path string) error {
	bin, err := exec.LookPath("sqlite3")
	if err != nil {
		return fmt.Errorf("sqlite3 client not found in PATH: %w", err)
	}
	cmd := exec.CommandContext(ctx, bin, path)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("sqlite3: %w", err)
	}
	return nil
}
