package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"medsight/internal/domain"
	"medsight/internal/usecase/scheduling"
)

func runSessions(argv []string) error {
	args, err := parseArgs(argv)
	if err != nil {
		return err
	}
	if len(args.Positional) == 0 {
		return fmt.Errorf("usage: medsight sessions <list|show ID|delete ID|cleanup>")
	}

	cfg, err := loadConfig(args.Config)
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := newBaseApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	sub, rest := args.Positional[0], args.Positional[1:]
	switch sub {
	case "list":
		return listSessions(ctx, os.Stdout, a.store)
	case "show":
		if len(rest) != 1 {
			return fmt.Errorf("usage: medsight sessions show <id>")
		}
		return showSession(ctx, os.Stdout, a.store, rest[0])
	case "delete":
		if len(rest) != 1 {
			return fmt.Errorf("usage: medsight sessions delete <id>")
		}
		removed, err := a.store.Delete(ctx, rest[0])
		if err != nil {
			return err
		}
		if !removed {
			return domain.NewDomainError("sessions.delete", domain.ErrSessionNotFound, rest[0])
		}
		fmt.Printf("deleted %s\n", rest[0])
		return nil
	case "cleanup":
		scheduling.RegisterRetention(a.scheduler, a.retentionDeps())
		return scheduling.RunRetention(ctx, a.scheduler)
	default:
		return fmt.Errorf("unknown sessions subcommand: %s (want: list, show, delete, cleanup)", sub)
	}
}

func listSessions(ctx context.Context, out io.Writer, st domain.SessionStore) error {
	ids, err := st.List(ctx)
	if err != nil {
		return err
	}
	convs := make([]*domain.Conversation, 0, len(ids))
	for _, id := range ids {
		c, err := st.Load(ctx, id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "skipping %s: %v\n", id, err)
			continue
		}
		convs = append(convs, c)
	}
	sort.Slice(convs, func(i, j int) bool { return convs[i].UpdatedAt.After(convs[j].UpdatedAt) })

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMESSAGES\tIMAGES\tRECORDS\tUPDATED")
	for _, c := range convs {
		var images, records int
		if c.PatientData != nil {
			images, records = len(c.PatientData.Images), len(c.PatientData.Records)
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n", c.SessionID, len(c.Messages), images, records,
			c.UpdatedAt.Local().Format(time.DateTime))
	}
	return w.Flush()
}

func showSession(ctx context.Context, out io.Writer, st domain.SessionStore, id string) error {
	if err := domain.ValidateSessionID(id); err != nil {
		return err
	}
	c, err := st.Load(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Session %s (created %s)\n\n", c.SessionID, c.CreatedAt.Local().Format(time.DateTime))
	for _, m := range c.Messages {
		var attachments []string
		if n := len(m.Images); n > 0 {
			attachments = append(attachments, fmt.Sprintf("%d image(s)", n))
		}
		if n := len(m.Documents); n > 0 {
			attachments = append(attachments, fmt.Sprintf("%d record(s)", n))
		}
		header := fmt.Sprintf("[%s] %s", m.Timestamp.Local().Format(time.TimeOnly), m.Role)
		if len(attachments) > 0 {
			header += " (" + strings.Join(attachments, ", ") + ")"
		}
		fmt.Fprintf(out, "%s\n%s\n\n", header, m.Content)
	}
	return nil
}
