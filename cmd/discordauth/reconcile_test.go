package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/wikiforge/discordauth/reconcile"
)

func sampleReport() *reconcile.Report {
	return &reconcile.Report{
		RunID:    "run-1",
		Duration: 1234 * time.Millisecond,
		Results: []reconcile.Result{
			{LocalUserID: "user-1", ExternalID: "ext-1", ExternalUsername: "alpha", HasAccess: true},
			{LocalUserID: "user-2", ExternalID: "ext-2", ExternalUsername: "beta", Reason: "not_a_member"},
			{LocalUserID: "user-3", ExternalID: "ext-3", ExternalUsername: "gamma", Err: errors.New("lookup failed")},
		},
	}
}

func TestPrintReportActionableOnly(t *testing.T) {
	var buf bytes.Buffer
	printReport(&buf, sampleReport(), false)

	out := buf.String()
	if !strings.Contains(out, "user-2") {
		t.Errorf("actionable account missing from output:\n%s", out)
	}
	if strings.Contains(out, "user-1") {
		t.Errorf("accessible account listed without --all:\n%s", out)
	}
	if !strings.Contains(out, "Run run-1: 3 linked accounts checked, 1 actionable, took 1.23s") {
		t.Errorf("summary line missing or wrong:\n%s", out)
	}
	if strings.Contains(out, "unlinked") {
		t.Errorf("summary mentions unlinked accounts, which the CLI cannot count:\n%s", out)
	}
}

func TestPrintReportAll(t *testing.T) {
	var buf bytes.Buffer
	printReport(&buf, sampleReport(), true)

	out := buf.String()
	for _, want := range []string{"user-1", "user-2", "user-3", "lookup failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintReportEmpty(t *testing.T) {
	var buf bytes.Buffer
	printReport(&buf, &reconcile.Report{RunID: "run-2"}, false)

	out := buf.String()
	if !strings.Contains(out, "0 linked accounts checked, 0 actionable") {
		t.Errorf("summary line missing or wrong:\n%s", out)
	}
}
