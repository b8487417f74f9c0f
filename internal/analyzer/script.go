package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/mailaudit/mailaudit/internal/model"
)

// scriptNames maps each check kind to its probe script.
var scriptNames = map[model.CheckKind]string{
	model.KindDMARC:    "dmarc_test.py",
	model.KindSPF:      "spf_test.py",
	model.KindDKIM:     "dkim_test.py",
	model.KindMailEcho: "mail_echo_test.py",
}

// ScriptProber runs an external probe script for one check kind. The script
// receives the domain as its only argument and prints a single JSON document
// on stdout: either the kind's payload or an {"error": true, "message": ...}
// envelope.
type ScriptProber struct {
	kind        model.CheckKind
	interpreter string
	script      string
}

// NewScriptProber builds a prober that runs interpreter on the kind's script
// inside scriptsDir.
func NewScriptProber(kind model.CheckKind, interpreter, scriptsDir string) *ScriptProber {
	return &ScriptProber{
		kind:        kind,
		interpreter: interpreter,
		script:      filepath.Join(scriptsDir, scriptNames[kind]),
	}
}

// errorEnvelope is the failure shape every probe script may emit.
type errorEnvelope struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

// Probe executes the script and decodes its payload. Context cancellation
// kills the subprocess; the caller distinguishes timeout via ctx.Err().
func (p *ScriptProber) Probe(ctx context.Context, domain string) (*Result, error) {
	cmd := exec.CommandContext(ctx, p.interpreter, p.script, domain)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		// A non-zero exit may still carry a structured error envelope.
		if env := decodeEnvelope(stdout.Bytes()); env != nil {
			return nil, &GatewayError{Reason: env.Message}
		}
		reason := fmt.Sprintf("analyzer process failed: %v", err)
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			reason = fmt.Sprintf("%s: %s", reason, firstLine(msg))
		}
		return nil, &GatewayError{Reason: reason}
	}

	if env := decodeEnvelope(stdout.Bytes()); env != nil {
		return nil, &GatewayError{Reason: env.Message}
	}

	res, err := decodePayload(p.kind, domain, stdout.Bytes())
	if err != nil {
		return nil, err
	}
	if err := res.Validate(); err != nil {
		return nil, err
	}
	return res, nil
}

// decodeEnvelope returns the error envelope if out carries one, nil otherwise.
func decodeEnvelope(out []byte) *errorEnvelope {
	var env errorEnvelope
	if err := json.Unmarshal(out, &env); err != nil {
		return nil
	}
	if !env.Error {
		return nil
	}
	if env.Message == "" {
		env.Message = "analyzer reported an unspecified error"
	}
	return &env
}

// decodePayload parses the kind's payload out of the script's stdout.
// Malformed output fails here, before it can reach the scorer.
func decodePayload(kind model.CheckKind, domain string, out []byte) (*Result, error) {
	res := &Result{Kind: kind, Domain: domain}

	var target any
	switch kind {
	case model.KindDMARC:
		res.DMARC = &DMARCResult{}
		target = res.DMARC
	case model.KindSPF:
		res.SPF = &SPFResult{}
		target = res.SPF
	case model.KindDKIM:
		res.DKIM = &DKIMResult{}
		target = res.DKIM
	case model.KindMailEcho:
		res.MailEcho = &MailEchoResult{}
		target = res.MailEcho
	default:
		return nil, &GatewayError{Reason: fmt.Sprintf("unknown check kind %q", kind)}
	}

	if err := json.Unmarshal(out, target); err != nil {
		return nil, &GatewayError{Reason: fmt.Sprintf("malformed analyzer payload: %v", err)}
	}
	return res, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
