package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"medsight/internal/infra/config"
	"medsight/internal/security"
)

// SecurityComponents holds the guardrails and the audit trail.
type SecurityComponents struct {
	Input      *security.InputValidator
	Output     *security.OutputValidator
	Safety     *security.SafetyChecker
	Compliance *security.ComplianceChecker
	// FileAuditLogger is nil when audit logging is disabled.
	FileAuditLogger *security.FileAuditLogger
	// Encryptor is nil unless store encryption is enabled and a passphrase is set.
	Encryptor *security.AESContentEncryptor
}

// initSecurity builds the guardrail checkers, the audit log and the optional
// store encryptor. The returned cleanup runs in reverse order of creation.
func initSecurity(cfg *config.Config, log *slog.Logger) (*SecurityComponents, func(), error) {
	comp := &SecurityComponents{}
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	g := cfg.Guardrails
	input, err := security.NewInputValidator(g.InputValidation, log)
	if err != nil {
		return nil, nil, fmt.Errorf("input validator: %w", err)
	}
	comp.Input = input
	comp.Output = security.NewOutputValidator(g.OutputValidation, g.Disclaimers)
	comp.Safety = security.NewSafetyChecker(g.SafetyChecks, log)

	if cfg.Security.Audit.Enabled {
		if err := os.MkdirAll(filepath.Dir(cfg.Security.Audit.Path), 0700); err != nil {
			return nil, nil, fmt.Errorf("create audit dir: %w", err)
		}
		fileAudit, err := security.NewFileAuditLogger(cfg.Security.Audit.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("audit logger: %w", err)
		}
		policy, err := security.RetentionFromConfig(cfg.Security.Audit.Retention.MaxAge, cfg.Security.Audit.Retention.MaxSize)
		if err != nil {
			fileAudit.Close()
			return nil, nil, fmt.Errorf("audit retention: %w", err)
		}
		fileAudit.SetRetention(policy)
		comp.FileAuditLogger = fileAudit
		cleanups = append(cleanups, func() { fileAudit.Close() })
		log.Info("audit logging enabled", "path", cfg.Security.Audit.Path)
	}

	if comp.FileAuditLogger != nil {
		comp.Compliance = security.NewComplianceChecker(g.Compliance, security.NewComplianceAuditLogger(comp.FileAuditLogger), log)
	} else {
		comp.Compliance = security.NewComplianceChecker(g.Compliance, nil, log)
	}

	if cfg.Store.Encrypt {
		passphrase := os.Getenv("MEDSIGHT_ENCRYPTION_KEY")
		if passphrase == "" {
			log.Warn("store encryption enabled but MEDSIGHT_ENCRYPTION_KEY not set, skipping")
			return comp, cleanup, nil
		}
		salt, err := security.LoadOrCreateSalt(cfg.Store.Dir)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("encryption salt: %w", err)
		}
		enc, err := security.NewAESContentEncryptor(passphrase, salt)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("encryption: %w", err)
		}
		comp.Encryptor = enc
		cleanups = append(cleanups, enc.Zeroize)
		log.Info("conversation encryption enabled", "algorithm", "AES-256-GCM")
	}

	return comp, cleanup, nil
}
