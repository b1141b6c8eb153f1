package store

import "time"

type Template struct {
	ID               string         `json:"_id"`
	Name             string         `json:"name"`
	Schema           map[string]any `json:"schema"`
	Version          int            `json:"version"`
	Author           string         `json:"author"`
	TeamName         string         `json:"team_name"`
	VersionTag       string         `json:"version_tag"`
	IsLocked         bool           `json:"is_locked"`
	LockPasswordHash *string        `json:"lock_password_hash"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// TemplateVersion is one immutable ledger entry. Seq orders entries per template.
type TemplateVersion struct {
	ID           string         `json:"_id"`
	TemplateName string         `json:"template_name"`
	Version      int            `json:"version"`
	Seq          int            `json:"seq"`
	Schema       map[string]any `json:"schema"`
	ChangeLog    string         `json:"change_log"`
	Author       string         `json:"author,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

type Submission struct {
	ID             string         `json:"_id"`
	TemplateName   string         `json:"template_name"`
	Version        int            `json:"version"`
	SubmissionName string         `json:"submission_name"`
	FillerName     string         `json:"fillerName,omitempty"`
	Data           map[string]any `json:"data"`
	CreatedAt      time.Time      `json:"created_at"`
	Responses      []*Response    `json:"responses,omitempty"`
}

type Response struct {
	ID           string      `json:"_id"`
	SubmissionID string      `json:"submission_id"`
	Version      int         `json:"version"`
	ParentID     *string     `json:"parent_id"`
	Author       string      `json:"author"`
	Content      string      `json:"content"`
	CreatedAt    time.Time   `json:"created_at"`
	Children     []*Response `json:"children"`
}

// FillerRecord is a row of the filler-name index used by search-by-filler.
type FillerRecord struct {
	ID             string         `json:"_id"`
	FillerName     string         `json:"fillerName"`
	SubmissionName string         `json:"submission_name"`
	TemplateName   string         `json:"template_name"`
	Data           map[string]any `json:"data"`
	CreatedAt      time.Time      `json:"created_at"`
}

func withID(doc Doc, id string) Doc {
	if id != "" {
		doc["_id"] = id
	}
	return doc
}

func (t Template) Doc() Doc {
	var hash any
	if t.LockPasswordHash != nil {
		hash = *t.LockPasswordHash
	}
	return withID(Doc{
		"name":               t.Name,
		"schema":             t.Schema,
		"version":            t.Version,
		"author":             t.Author,
		"team_name":          t.TeamName,
		"version_tag":        t.VersionTag,
		"is_locked":          t.IsLocked,
		"lock_password_hash": hash,
		"created_at":         FormatTime(t.CreatedAt),
		"updated_at":         FormatTime(t.UpdatedAt),
	}, t.ID)
}

func (v TemplateVersion) Doc() Doc {
	return withID(Doc{
		"template_name": v.TemplateName,
		"version":       v.Version,
		"seq":           v.Seq,
		"schema":        v.Schema,
		"change_log":    v.ChangeLog,
		"author":        v.Author,
		"created_at":    FormatTime(v.CreatedAt),
	}, v.ID)
}

func (s Submission) Doc() Doc {
	doc := withID(Doc{
		"template_name":   s.TemplateName,
		"version":         s.Version,
		"submission_name": s.SubmissionName,
		"data":            s.Data,
		"created_at":      FormatTime(s.CreatedAt),
	}, s.ID)
	if s.FillerName != "" {
		doc["fillerName"] = s.FillerName
	}
	return doc
}

func (r Response) Doc() Doc {
	var parent any
	if r.ParentID != nil {
		parent = *r.ParentID
	}
	return withID(Doc{
		"submission_id": r.SubmissionID,
		"version":       r.Version,
		"parent_id":     parent,
		"author":        r.Author,
		"content":       r.Content,
		"created_at":    FormatTime(r.CreatedAt),
	}, r.ID)
}

func (f FillerRecord) Doc() Doc {
	return withID(Doc{
		"fillerName":      f.FillerName,
		"submission_name": f.SubmissionName,
		"template_name":   f.TemplateName,
		"data":            f.Data,
		"created_at":      FormatTime(f.CreatedAt),
	}, f.ID)
}

func DecodeTemplate(doc Doc) (Template, error) {
	var t Template
	err := doc.Decode(&t)
	return t, err
}

func DecodeTemplateVersion(doc Doc) (TemplateVersion, error) {
	var v TemplateVersion
	err := doc.Decode(&v)
	return v, err
}

func DecodeSubmission(doc Doc) (Submission, error) {
	var s Submission
	err := doc.Decode(&s)
	return s, err
}

func DecodeResponse(doc Doc) (Response, error) {
	var r Response
	err := doc.Decode(&r)
	return r, err
}

func DecodeFillerRecord(doc Doc) (FillerRecord, error) {
	var f FillerRecord
	err := doc.Decode(&f)
	return f, err
}
