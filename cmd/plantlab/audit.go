package main

import (
	"context"

	"plantlab/internal/adapters/reports"
	"plantlab/internal/core"
	"plantlab/internal/logging"
)

// auditLog writes service audit entries to the structured log.
type auditLog struct {
	logger *logging.Logger
}

func (a auditLog) Record(_ context.Context, e core.AuditEntry) {
	if e.Status == core.AuditStatusError {
		a.logger.Warn("operation failed", "operation", e.Operation, "error", e.Error, "duration", e.Duration)
		return
	}
	a.logger.Debug("operation", "operation", e.Operation, "duration", e.Duration, "violations", len(e.Violations))
}

// reportAudit writes report status transitions to the structured log.
type reportAudit struct {
	logger *logging.Logger
}

func (a reportAudit) Record(_ context.Context, e reports.AuditEntry) {
	a.logger.Info("report "+string(e.Status), "report_id", e.ReportID, "kind", string(e.Kind), "actor", e.Actor, "note", e.Note)
}
