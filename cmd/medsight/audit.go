package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"medsight/internal/domain"
	"medsight/internal/security"
)

// runAudit prints the persisted audit trail, optionally for one session.
func runAudit(argv []string) error {
	args, err := parseArgs(argv)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(args.Config)
	if err != nil {
		return err
	}
	if !cfg.Security.Audit.Enabled {
		return fmt.Errorf("audit logging is disabled in %s", args.Config)
	}

	events, err := security.ReadAuditLog(cfg.Security.Audit.Path)
	if err != nil {
		return err
	}
	return printAudit(os.Stdout, filterAudit(events, args.Session))
}

// filterAudit keeps the events about sessionID; empty keeps all.
func filterAudit(events []domain.AuditEvent, sessionID string) []domain.AuditEvent {
	if sessionID == "" {
		return events
	}
	var out []domain.AuditEvent
	for _, e := range events {
		if e.Resource == sessionID || e.Detail["session_id"] == sessionID {
			out = append(out, e)
		}
	}
	return out
}

func printAudit(out io.Writer, events []domain.AuditEvent) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTYPE\tSESSION\tACTION\tOUTCOME\tDATA")
	for _, e := range events {
		session := e.Resource
		if session == "" {
			session = e.Detail["session_id"]
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format(time.DateTime), e.Type, dash(session),
			dash(e.Action), dash(e.Outcome), dash(e.Detail["data_accessed"]))
	}
	return w.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
