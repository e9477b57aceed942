package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"medsight/internal/infra/config"
	"medsight/internal/security"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

const notLoaded = "cannot check, config not loaded"

// runDoctor executes all health checks and reports results.
func runDoctor(argv []string) error {
	args, err := parseArgs(argv)
	if err != nil {
		return err
	}

	// Some checks work without a config.
	cfg, cfgErr := config.Load(args.Config)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(args.Config, cfgErr)},
		{Name: "Image model", Fn: checkImageModel},
		{Name: "Model connectivity", Fn: checkModelConnectivity},
		{Name: "Record model", Fn: checkRecordModel},
		{Name: "Guardrails", Fn: checkGuardrails},
		{Name: "Conversation store", Fn: checkStoreDir},
		{Name: "Encryption", Fn: checkEncryption},
		{Name: "Audit log", Fn: checkAuditLog},
		{Name: "Disk space", Fn: checkDiskSpace},
	}
	return reportChecks(os.Stdout, cfg, checks)
}

// reportChecks runs checks and prints one line per result. It fails when
// any check fails.
func reportChecks(out io.Writer, cfg *config.Config, checks []Check) error {
	fmt.Fprintln(out, "medsight doctor")
	fmt.Fprintln(out, strings.Repeat("=", 50))
	fmt.Fprintln(out)

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name

		fmt.Fprintf(out, "  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Fprintf(out, "      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, strings.Repeat("-", 50))
	fmt.Fprintf(out, "Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		fmt.Fprintln(out, "\nFix the FAIL issues above before running medsight.")
		return fmt.Errorf("%d check(s) failed", fail)
	}
	if warn > 0 {
		fmt.Fprintln(out, "\nmedsight should work, but consider addressing the warnings.")
	} else {
		fmt.Fprintln(out, "\nAll checks passed! medsight is ready to run.")
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

// checkConfigFile returns a check that reports whether the config file
// exists and loads. A missing file is allowed and means defaults.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     fmt.Sprintf("Check %s syntax and permissions (0600)", cfgPath),
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config file at %s, using defaults and MEDSIGHT_* variables", cfgPath),
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("config loaded from %s", cfgPath),
		}
	}
}

// checkImageModel verifies the vision endpoint is fully configured.
func checkImageModel(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: notLoaded}
	}

	p := cfg.Model.Image
	switch p.Type {
	case "endpoint":
		if p.BaseURL == "" {
			return CheckResult{
				Status:  StatusFail,
				Message: "endpoint provider has no base_url",
				Fix:     "Set model.image.base_url or MEDSIGHT_MODEL_BASE_URL",
			}
		}
	case "openai":
		if p.APIKey == "" && p.BaseURL == "" {
			return CheckResult{
				Status:  StatusFail,
				Message: "openai provider has no API key",
				Fix:     "Set MEDSIGHT_MODEL_API_KEY",
			}
		}
	default:
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("unsupported model type %q", p.Type),
		}
	}

	if p.APIKey == "" {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("%s model %s configured without an API key", p.Type, p.Model),
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s model %s configured", p.Type, p.Model),
	}
}

// checkModelConnectivity tests whether the vision endpoint is reachable.
// Any HTTP response counts; only transport errors fail.
func checkModelConnectivity(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: notLoaded}
	}

	endpoint := providerEndpoint(cfg.Model.Image)
	if endpoint == "" {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("no known endpoint for model type %q, skipping connectivity test", cfg.Model.Image.Type),
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("failed to create request: %v", err),
		}
	}
	resp, err := http.DefaultClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot reach %s: %v", endpoint, err),
			Fix:     "Check the endpoint URL, your network and firewall settings",
		}
	}
	resp.Body.Close()

	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s reachable (latency: %dms)", endpoint, latency.Milliseconds()),
	}
}

// providerEndpoint returns the URL to check for the given provider.
func providerEndpoint(p config.ProviderConfig) string {
	if p.BaseURL != "" {
		return strings.TrimRight(p.BaseURL, "/")
	}
	if p.Type == "openai" {
		return "https://api.openai.com/v1/models"
	}
	return ""
}

// checkRecordModel reports whether record extraction uses a model.
func checkRecordModel(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusWarn, Message: notLoaded}
	}
	if !cfg.Agents.RecordParser.UseModel || cfg.Model.Record.Type == "" {
		return CheckResult{
			Status:  StatusPass,
			Message: "record extraction uses pattern matching only",
		}
	}
	if cfg.Model.Record.APIKey == "" && cfg.Model.Record.BaseURL == "" {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("record model %s has no API key or base_url", cfg.Model.Record.Model),
			Fix:     "Set MEDSIGHT_RECORD_MODEL_API_KEY, or clear model.record.type",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s record model %s configured", cfg.Model.Record.Type, cfg.Model.Record.Model),
	}
}

// checkGuardrails verifies the guardrail policy compiles.
func checkGuardrails(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: notLoaded}
	}
	if _, err := security.NewInputValidator(cfg.Guardrails.InputValidation, nil); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("invalid guardrail policy: %v", err),
		}
	}

	source := "built-in policy"
	if cfg.Guardrails.Path != "" {
		source = cfg.Guardrails.Path
	}
	in := cfg.Guardrails.InputValidation
	return CheckResult{
		Status: StatusPass,
		Message: fmt.Sprintf("%s: %d emergency keywords, %d blocked patterns, %d PHI patterns",
			source, len(in.EmergencyKeywords), len(in.BlockedPatterns), len(in.PIIPatterns)),
	}
}

// checkStoreDir verifies the conversation directory exists and is writable.
func checkStoreDir(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: notLoaded}
	}
	res := checkWritableDir(cfg.Store.Dir)
	if res.Status == StatusPass {
		res.Message += fmt.Sprintf(" (backend: %s)", cfg.Store.Backend)
	}
	return res
}

// checkEncryption warns when encryption is requested without a passphrase.
func checkEncryption(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusWarn, Message: notLoaded}
	}
	if !cfg.Store.Encrypt {
		return CheckResult{
			Status:  StatusWarn,
			Message: "stored conversations are not encrypted",
			Fix:     "Set MEDSIGHT_ENCRYPTION_KEY to encrypt conversations at rest",
		}
	}
	if os.Getenv("MEDSIGHT_ENCRYPTION_KEY") == "" {
		return CheckResult{
			Status:  StatusFail,
			Message: "store.encrypt is set but MEDSIGHT_ENCRYPTION_KEY is empty",
			Fix:     "Export MEDSIGHT_ENCRYPTION_KEY",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: "conversations encrypted with AES-256-GCM",
	}
}

// checkAuditLog verifies the audit directory is writable.
func checkAuditLog(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: notLoaded}
	}
	if !cfg.Security.Audit.Enabled {
		return CheckResult{
			Status:  StatusWarn,
			Message: "audit logging disabled",
			Fix:     "Set security.audit.enabled: true to keep an interaction trail",
		}
	}
	return checkWritableDir(filepath.Dir(cfg.Security.Audit.Path))
}

// checkWritableDir creates dir when missing and tests it with a temp file.
func checkWritableDir(dir string) CheckResult {
	absDir, _ := filepath.Abs(dir)

	info, err := os.Stat(absDir)
	if os.IsNotExist(err) {
		if mkErr := os.MkdirAll(absDir, 0700); mkErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("directory %s does not exist and cannot be created: %v", absDir, mkErr),
				Fix:     fmt.Sprintf("Create the directory: mkdir -p %s", absDir),
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("directory created at %s", absDir),
		}
	}
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot stat directory: %v", err),
		}
	}
	if !info.IsDir() {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("%s exists but is not a directory", absDir),
		}
	}

	testFile := filepath.Join(absDir, ".doctor-check")
	if err := os.WriteFile(testFile, []byte("ok"), 0600); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("directory %s is not writable: %v", absDir, err),
			Fix:     fmt.Sprintf("Fix permissions: chmod 700 %s", absDir),
		}
	}
	os.Remove(testFile)

	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("directory %s writable", absDir),
	}
}

// checkDiskSpace checks available disk space in the data directory.
func checkDiskSpace(cfg *config.Config) CheckResult {
	dataDir := "./data"
	if cfg != nil && cfg.DataDir != "" {
		dataDir = cfg.DataDir
	}
	absDir, _ := filepath.Abs(dataDir)

	info, err := os.Stat(absDir)
	if err != nil || !info.IsDir() {
		return CheckResult{
			Status:  StatusPass,
			Message: "data directory does not exist yet, space check skipped",
		}
	}

	out, err := exec.Command("df", "-h", absDir).Output()
	if err != nil {
		return CheckResult{
			Status:  StatusWarn,
			Message: "could not determine disk space (df command failed)",
		}
	}
	return parseDF(string(out))
}

// parseDF reads the usage line of `df -h` output.
func parseDF(out string) CheckResult {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) < 2 {
		return CheckResult{Status: StatusWarn, Message: "unexpected df output format"}
	}
	fields := strings.Fields(lines[len(lines)-1])
	if len(fields) < 5 {
		return CheckResult{Status: StatusWarn, Message: "unexpected df output format"}
	}

	available, usePercent := fields[3], fields[4]
	var pct int
	fmt.Sscanf(strings.TrimSuffix(usePercent, "%"), "%d", &pct)

	switch {
	case pct >= 95:
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("disk almost full: %s used, %s available", usePercent, available),
			Fix:     "Free up disk space or move data_dir to a different partition",
		}
	case pct >= 85:
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("disk usage high: %s used, %s available", usePercent, available),
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("disk usage: %s used, %s available", usePercent, available),
	}
}
