package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	htmltemplate "html/template"
	"time"

	"consenthub/models"

	"github.com/xuri/excelize/v2"
)

// Response package formats
const (
	FormatJSON = "json"
	FormatXLSX = "xlsx"
	FormatPDF  = "pdf"
)

// DefaultDownloadTTL is how long a response package link stays valid
const DefaultDownloadTTL = 7 * 24 * time.Hour

// ResponseService assembles the data held about a requester and publishes it as
// a downloadable package for access and portability requests
type ResponseService struct {
	DSAR    *DSARService
	Storage StorageProvider
	PDF     PDFRenderer
	LinkTTL time.Duration
}

func NewResponseService(dsar *DSARService, storage StorageProvider, pdf PDFRenderer) *ResponseService {
	return &ResponseService{
		DSAR:    dsar,
		Storage: storage,
		PDF:     pdf,
		LinkTTL: DefaultDownloadTTL,
	}
}

// DataSubject identifies who the package is about
type DataSubject struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// DataPackage is everything held about one requester
type DataPackage struct {
	GeneratedAt   time.Time             `json:"generatedAt"`
	RequestID     string                `json:"requestId"`
	Subject       DataSubject           `json:"subject"`
	Requests      []models.DSARView     `json:"requests"`
	Notifications []models.Notification `json:"notifications"`
	AuditTrail    []models.AuditLog     `json:"auditTrail"`
	Consents      []models.ConsentLog   `json:"consents"`
	Warnings      []string              `json:"warnings,omitempty"`
}

// RecordCount is the number of records included in the package
func (p *DataPackage) RecordCount() int {
	return len(p.Requests) + len(p.Notifications) + len(p.AuditTrail) + len(p.Consents)
}

// GenerateResponse renders, stores and links a response package on the request
func (s *ResponseService) GenerateResponse(ctx context.Context, id, format string, actor Actor) (*models.DSARRequest, error) {
	switch format {
	case "":
		format = FormatJSON
	case FormatJSON, FormatXLSX, FormatPDF:
	default:
		return nil, NewFieldError("format", "must be one of: json xlsx pdf")
	}
	if format == FormatPDF && s.PDF == nil {
		return nil, NewFieldError("format", "pdf rendering is not available")
	}

	r, err := s.DSAR.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !r.RequestType.ProducesDataPackage() {
		return nil, NewFieldError("requestType", fmt.Sprintf("%s requests do not produce a data package", r.RequestType))
	}
	if r.Status == models.DSARStatusRejected || r.Status == models.DSARStatusCancelled {
		return nil, &ValidationError{Message: fmt.Sprintf("request is %s", r.Status)}
	}

	now := s.DSAR.now()
	pkg := s.collect(ctx, r, now)

	content, contentType, err := s.render(ctx, pkg, format)
	if err != nil {
		return nil, err
	}

	key := GenerateResponsePackageKey(r.RequestID, format, now)
	stored, err := s.Storage.UploadReader(ctx, bytes.NewReader(content), key, contentType, int64(len(content)))
	if err != nil {
		return nil, &PersistenceError{Op: "store response package", Err: err}
	}

	ttl := s.LinkTTL
	if ttl <= 0 {
		ttl = DefaultDownloadTTL
	}
	url, err := s.Storage.GetSignedURL(ctx, key, ttl)
	if err != nil {
		return nil, &PersistenceError{Op: "sign response package url", Err: err}
	}

	var previousKey string
	updated, err := s.DSAR.mutate(ctx, r.RequestID, 0, actor, func(r *models.DSARRequest, now time.Time) (AuditEntry, error) {
		if r.Response != nil {
			previousKey = r.Response.StorageKey
		}
		r.Response = &models.ResponsePackage{
			Format:      format,
			DownloadURL: url,
			StorageKey:  stored.Key,
			ExpiresAt:   now.Add(ttl),
			FileSize:    stored.FileSize,
			RecordCount: pkg.RecordCount(),
		}
		r.AppendNote(fmt.Sprintf("Response package generated (%s, %d records)", format, pkg.RecordCount()), actor.Label(), now)
		return AuditEntry{
			Action:      models.AuditActionExport,
			Description: fmt.Sprintf("Response package generated as %s", format),
			NewValues:   map[string]interface{}{"format": format, "recordCount": pkg.RecordCount(), "fileSize": stored.FileSize},
		}, nil
	})
	if err != nil {
		if delErr := s.Storage.Delete(ctx, key); delErr != nil {
			s.DSAR.logger().Warnw("failed to clean up orphaned response package", "key", key, "error", delErr)
		}
		return nil, err
	}

	if previousKey != "" && previousKey != key {
		if err := s.Storage.Delete(ctx, previousKey); err != nil {
			s.DSAR.logger().Warnw("failed to delete superseded response package", "key", previousKey, "error", err)
		}
	}

	s.DSAR.Metrics.RecordResponsePackage(format)
	s.DSAR.logger().Infow("response package generated", "request_id", updated.RequestID, "format", format, "records", pkg.RecordCount())
	s.DSAR.publish(ctx, updated, EventDSARResponseReady, "", updated.Status, actor)
	return updated, nil
}

// collect gathers data about the requester. Optional sources that fail are
// skipped with a warning rather than failing the package.
func (s *ResponseService) collect(ctx context.Context, r *models.DSARRequest, now time.Time) *DataPackage {
	pkg := &DataPackage{
		GeneratedAt:   now,
		RequestID:     r.RequestID,
		Subject:       DataSubject{Name: r.RequesterName, Email: r.RequesterEmail, Phone: r.RequesterPhone},
		Requests:      []models.DSARView{},
		Notifications: []models.Notification{},
		AuditTrail:    []models.AuditLog{},
		Consents:      []models.ConsentLog{},
	}
	db := s.DSAR.DB.WithContext(ctx)
	log := s.DSAR.logger()

	var requests []models.DSARRequest
	if err := db.Where("requester_email = ?", r.RequesterEmail).Order("submitted_at ASC").Find(&requests).Error; err != nil {
		log.Warnw("skipping dsar history in response package", "request_id", r.RequestID, "error", err)
		pkg.Warnings = append(pkg.Warnings, "request history unavailable")
		requests = []models.DSARRequest{*r}
	}
	ids := make([]string, 0, len(requests))
	for i := range requests {
		pkg.Requests = append(pkg.Requests, requests[i].View(now))
		ids = append(ids, requests[i].ID)
	}

	if err := db.Where("recipient_email = ?", r.RequesterEmail).Order("created_at ASC").Find(&pkg.Notifications).Error; err != nil {
		log.Warnw("skipping notifications in response package", "request_id", r.RequestID, "error", err)
		pkg.Warnings = append(pkg.Warnings, "notifications unavailable")
	}

	if err := db.Where("resource_type = ? AND resource_id IN ?", dsarResource, ids).Order("created_at ASC").Find(&pkg.AuditTrail).Error; err != nil {
		log.Warnw("skipping audit trail in response package", "request_id", r.RequestID, "error", err)
		pkg.Warnings = append(pkg.Warnings, "audit trail unavailable")
	}

	if err := db.Where("subject_email = ?", r.RequesterEmail).Order("created_at ASC").Find(&pkg.Consents).Error; err != nil {
		log.Warnw("skipping consent history in response package", "request_id", r.RequestID, "error", err)
		pkg.Warnings = append(pkg.Warnings, "consent history unavailable")
	}

	return pkg
}

func (s *ResponseService) render(ctx context.Context, pkg *DataPackage, format string) ([]byte, string, error) {
	switch format {
	case FormatXLSX:
		buf, err := buildPackageWorkbook(pkg)
		if err != nil {
			return nil, "", err
		}
		return buf.Bytes(), contentTypeForKey(".xlsx"), nil
	case FormatPDF:
		html, err := renderPackageHTML(pkg)
		if err != nil {
			return nil, "", err
		}
		pdf, err := s.PDF.RenderPDF(ctx, html)
		if err != nil {
			return nil, "", err
		}
		return pdf, contentTypeForKey(".pdf"), nil
	default:
		data, err := json.MarshalIndent(pkg, "", "  ")
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode data package: %w", err)
		}
		return data, contentTypeForKey(".json"), nil
	}
}

func buildPackageWorkbook(pkg *DataPackage) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer f.Close()

	const (
		sheetSubject       = "Subject"
		sheetRequests      = "Requests"
		sheetNotifications = "Notifications"
		sheetAudit         = "Activity"
		sheetConsents      = "Consents"
	)

	f.SetSheetName("Sheet1", sheetSubject)
	writeRow(f, sheetSubject, 1, []interface{}{"Name", pkg.Subject.Name})
	writeRow(f, sheetSubject, 2, []interface{}{"Email", pkg.Subject.Email})
	writeRow(f, sheetSubject, 3, []interface{}{"Phone", pkg.Subject.Phone})
	writeRow(f, sheetSubject, 4, []interface{}{"Generated", pkg.GeneratedAt.Format(time.RFC3339)})
	writeRow(f, sheetSubject, 5, []interface{}{"In response to", pkg.RequestID})
	f.SetColWidth(sheetSubject, "A", "B", 30)

	f.NewSheet(sheetRequests)
	writeHeaderRow(f, sheetRequests, []string{"Request ID", "Type", "Status", "Subject", "Description", "Submitted", "Due", "Completed"})
	for i, v := range pkg.Requests {
		completed := ""
		if v.CompletedAt != nil {
			completed = v.CompletedAt.Format(time.RFC3339)
		}
		writeRow(f, sheetRequests, i+2, []interface{}{
			v.RequestID, string(v.RequestType), string(v.Status), v.Subject, v.Description,
			v.SubmittedAt.Format(time.RFC3339), v.DueDate.Format(time.RFC3339), completed,
		})
	}

	f.NewSheet(sheetNotifications)
	writeHeaderRow(f, sheetNotifications, []string{"Sent", "Type", "Title", "Message"})
	for i, n := range pkg.Notifications {
		writeRow(f, sheetNotifications, i+2, []interface{}{n.CreatedAt.Format(time.RFC3339), n.Type, n.Title, n.Message})
	}

	f.NewSheet(sheetAudit)
	writeHeaderRow(f, sheetAudit, []string{"When", "Action", "Request", "Description"})
	for i, a := range pkg.AuditTrail {
		writeRow(f, sheetAudit, i+2, []interface{}{a.CreatedAt.Format(time.RFC3339), string(a.Action), a.ResourceName, a.Description})
	}

	f.NewSheet(sheetConsents)
	writeHeaderRow(f, sheetConsents, []string{"When", "Purpose", "Decision", "Policy", "Source"})
	for i, c := range pkg.Consents {
		decision := "Withdrawn"
		if c.Granted {
			decision = "Granted"
		}
		writeRow(f, sheetConsents, i+2, []interface{}{c.CreatedAt.Format(time.RFC3339), string(c.Purpose), decision, c.PolicyVersion, c.Source})
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write excel buffer: %w", err)
	}
	return buf, nil
}

var packageHTML = htmltemplate.Must(htmltemplate.New("package").Funcs(htmltemplate.FuncMap{
	"date":    func(t time.Time) string { return t.Format("2006-01-02 15:04") },
	"content": RenderContent,
}).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>
body { font-family: Helvetica, Arial, sans-serif; font-size: 11pt; color: #222; }
h1 { font-size: 18pt; margin-bottom: 4pt; }
h2 { font-size: 13pt; border-bottom: 1px solid #ccc; padding-bottom: 2pt; margin-top: 18pt; }
table { width: 100%; border-collapse: collapse; }
th, td { text-align: left; padding: 4pt; border-bottom: 1px solid #eee; vertical-align: top; }
th { background: #f4f4f4; }
.muted { color: #777; }
</style>
</head>
<body>
<h1>Your personal data</h1>
<p class="muted">Prepared {{date .GeneratedAt}} in response to {{.RequestID}}</p>
<h2>About you</h2>
<table>
<tr><th>Name</th><td>{{.Subject.Name}}</td></tr>
<tr><th>Email</th><td>{{.Subject.Email}}</td></tr>
{{if .Subject.Phone}}<tr><th>Phone</th><td>{{.Subject.Phone}}</td></tr>{{end}}
</table>
<h2>Your requests</h2>
<table>
<tr><th>Request</th><th>Type</th><th>Status</th><th>Submitted</th><th>Subject</th></tr>
{{range .Requests}}<tr><td>{{.RequestID}}</td><td>{{.RequestType}}</td><td>{{.Status}}</td><td>{{date .SubmittedAt}}</td><td>{{.Subject}}</td></tr>
{{end}}</table>
<h2>Correspondence about your requests</h2>
{{range .Requests}}{{$id := .RequestID}}{{range .Communications}}<p class="muted">{{$id}} &middot; {{date .Timestamp}} &middot; {{.Type}} ({{.Direction}})</p>
<div>{{content .Content .Format}}</div>
{{end}}{{end}}
<h2>Messages we sent you</h2>
{{if .Notifications}}<table>
<tr><th>Sent</th><th>Title</th><th>Message</th></tr>
{{range .Notifications}}<tr><td>{{date .CreatedAt}}</td><td>{{.Title}}</td><td>{{.Message}}</td></tr>
{{end}}</table>{{else}}<p class="muted">None.</p>{{end}}
<h2>Activity on your requests</h2>
{{if .AuditTrail}}<table>
<tr><th>When</th><th>Action</th><th>Description</th></tr>
{{range .AuditTrail}}<tr><td>{{date .CreatedAt}}</td><td>{{.Action}}</td><td>{{.Description}}</td></tr>
{{end}}</table>{{else}}<p class="muted">None.</p>{{end}}
<h2>Your consent choices</h2>
{{if .Consents}}<table>
<tr><th>When</th><th>Purpose</th><th>Decision</th><th>Policy</th></tr>
{{range .Consents}}<tr><td>{{date .CreatedAt}}</td><td>{{.Purpose}}</td><td>{{if .Granted}}Granted{{else}}Withdrawn{{end}}</td><td>{{.PolicyVersion}}</td></tr>
{{end}}</table>{{else}}<p class="muted">None.</p>{{end}}
</body>
</html>`))

func renderPackageHTML(pkg *DataPackage) (string, error) {
	var buf bytes.Buffer
	if err := packageHTML.Execute(&buf, pkg); err != nil {
		return "", fmt.Errorf("failed to render data package html: %w", err)
	}
	return buf.String(), nil
}
