package lister

import (
	"fmt"
	"io"
	"strings"

	"github.com/antchfx/xmlquery"

	"github.com/JakeFAU/alma-bulk/internal/mous"
)

// Element lookups go through local-name() so the VOTable 1.1, 1.2 and 1.3
// namespaces and namespace-less documents all resolve the same way.
const (
	tableXPath = "//*[local-name()='TABLE']"
	fieldXPath = "./*[local-name()='FIELD']"
	rowXPath   = ".//*[local-name()='TR']"
	cellXPath  = "./*"
)

// parseVOTable reads the first TABLE of a listing document. Columns are
// matched by name, so missing or extra fields are tolerated. A document
// without a TABLE yields no artifacts.
func parseVOTable(r io.Reader) ([]mous.ArtifactInfo, error) {
	doc, err := xmlquery.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse listing: %w", err)
	}
	table := xmlquery.FindOne(doc, tableXPath)
	if table == nil {
		return []mous.ArtifactInfo{}, nil
	}

	var fields []string
	for _, field := range xmlquery.Find(table, fieldXPath) {
		key := field.SelectAttr("name")
		if key == "" {
			key = field.SelectAttr("ID")
		}
		fields = append(fields, strings.TrimSpace(key))
	}

	artifacts := []mous.ArtifactInfo{}
	for _, tr := range xmlquery.Find(table, rowXPath) {
		row := make(map[string]string, len(fields))
		for i, td := range xmlquery.Find(tr, cellXPath) {
			if i >= len(fields) {
				break
			}
			row[fields[i]] = strings.TrimSpace(td.InnerText())
		}
		if info, ok := artifactFromRow(row); ok {
			artifacts = append(artifacts, info)
		}
	}
	return artifacts, nil
}

func artifactFromRow(row map[string]string) (mous.ArtifactInfo, bool) {
	url := firstColumn(row, "access_url", "accessURL")
	if url == "" {
		return mous.ArtifactInfo{}, false
	}
	filename := FilenameFromURL(url)
	semantics := firstColumn(row, "semantics", "content_qualifier")
	return mous.ArtifactInfo{
		Kind:        Classify("", semantics, filename),
		URL:         url,
		Filename:    filename,
		Semantics:   semantics,
		ContentType: row["content_type"],
		SizeBytes:   parseSize(row["content_length"]),
		Checksum:    row["checksum"],
		Description: row["description"],
	}, true
}

func firstColumn(row map[string]string, names ...string) string {
	for _, name := range names {
		if v := row[name]; v != "" {
			return v
		}
	}
	return ""
}
