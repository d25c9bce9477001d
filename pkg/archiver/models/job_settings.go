package models

import (
	"strconv"
	"strings"
	"time"
)

// Paper formats accepted by the archive worker.
var PaperFormats = []string{"A0", "A1", "A2", "A3", "A4", "A5", "A6", "Letter", "Legal", "Tabloid", "Ledger"}

// Attempt report sections that can be toggled per job.
var ReportSections = []string{
	"header",
	"question",
	"rightanswer",
	"quiz_feedback",
	"question_feedback",
	"general_feedback",
	"correctness",
	"marks",
	"attempt_feedback",
	"history",
}

// JobSettings is the validated configuration a job was created with.
type JobSettings struct {
	ExportAttempts         bool            `json:"exportAttempts"`
	ExportReportSections   map[string]bool `json:"exportReportSections,omitempty"`
	PaperFormat            string          `json:"paperFormat,omitempty"`
	KeepHTMLFiles          bool            `json:"keepHtmlFiles"`
	ExportCourseBackup     bool            `json:"exportCourseBackup"`
	ExportQuizBackup       bool            `json:"exportQuizBackup"`
	ArchiveFilenamePattern string          `json:"archiveFilenamePattern,omitempty"`
	AttemptFilenamePattern string          `json:"attemptFilenamePattern,omitempty"`
	RetentionSeconds       *int64          `json:"retentionSeconds,omitempty"`
}

// Retention converts RetentionSeconds to a duration, nil when unset.
func (s JobSettings) Retention() *time.Duration {
	if s.RetentionSeconds == nil || *s.RetentionSeconds <= 0 {
		return nil
	}
	d := time.Duration(*s.RetentionSeconds) * time.Second
	return &d
}

func IsPaperFormat(v string) bool {
	for _, f := range PaperFormats {
		if f == v {
			return true
		}
	}
	return false
}

func IsReportSection(v string) bool {
	for _, s := range ReportSections {
		if s == v {
			return true
		}
	}
	return false
}

// Snapshot flattens the settings into the audit key/value form stored with
// the job. The snapshot is never read back into JobSettings.
func (s JobSettings) Snapshot() map[string]string {
	out := map[string]string{
		"export_attempts":           strconv.FormatBool(s.ExportAttempts),
		"export_attempts_paper":     s.PaperFormat,
		"export_attempts_keep_html": strconv.FormatBool(s.KeepHTMLFiles),
		"export_course_backup":      strconv.FormatBool(s.ExportCourseBackup),
		"export_quiz_backup":        strconv.FormatBool(s.ExportQuizBackup),
		"archive_filename_pattern":  s.ArchiveFilenamePattern,
		"attempt_filename_pattern":  s.AttemptFilenamePattern,
		"archive_autodelete":        strconv.FormatBool(s.Retention() != nil),
	}
	if r := s.Retention(); r != nil {
		out["archive_retention_time"] = strconv.FormatInt(int64(r.Seconds()), 10)
	}
	for _, section := range ReportSections {
		out["export_report_section_"+strings.ToLower(section)] = strconv.FormatBool(s.ExportReportSections[section])
	}
	return out
}
