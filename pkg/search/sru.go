package search

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/yourusername/open-ill-broker/pkg/config"
	"github.com/yourusername/open-ill-broker/pkg/transport"
	"github.com/yourusername/open-ill-broker/pkg/z3950"
)

type sruResponse struct {
	XMLName         xml.Name        `xml:"searchRetrieveResponse"`
	NumberOfRecords int             `xml:"numberOfRecords"`
	Records         []sruRecord     `xml:"records>record"`
	Diagnostics     []sruDiagnostic `xml:"diagnostics>diagnostic"`
}

type sruRecord struct {
	Schema   string        `xml:"recordSchema"`
	Position int           `xml:"recordPosition"`
	Data     sruRecordData `xml:"recordData"`
}

type sruRecordData struct {
	Inner []byte `xml:",innerxml"`
	Text  string `xml:",chardata"`
}

type sruDiagnostic struct {
	URI     string `xml:"uri"`
	Details string `xml:"details"`
	Message string `xml:"message"`
}

// SRU searches a target over SRU 1.2 searchRetrieve, asking for MARCXML.
type SRU struct {
	client *transport.Client
}

func NewSRU(client *transport.Client) *SRU {
	return &SRU{client: client}
}

func (s *SRU) Search(ctx context.Context, t config.Target, q Query, p Paging) ([]*z3950.MARCRecord, error) {
	params := url.Values{
		"version":        {"1.2"},
		"operation":      {"searchRetrieve"},
		"query":          {q.CQL()},
		"startRecord":    {strconv.Itoa(p.Start)},
		"maximumRecords": {strconv.Itoa(p.PageSize)},
		"recordSchema":   {"marcxml"},
	}
	resp, err := s.client.Get(ctx, t.SearchURL, params)
	if err != nil {
		return nil, err
	}
	return decodeSRU(resp.Body, z3950.ProfileFor(t.Encoding))
}

// Explain issues an SRU explain request; it only checks that the endpoint
// answers.
func (s *SRU) Explain(ctx context.Context, t config.Target) error {
	_, err := s.client.Get(ctx, t.SearchURL, url.Values{"version": {"1.2"}, "operation": {"explain"}})
	return err
}

func decodeSRU(body []byte, profile *z3950.MARCProfile) ([]*z3950.MARCRecord, error) {
	var sr sruResponse
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.CharsetReader = charset.NewReaderLabel
	if err := dec.Decode(&sr); err != nil {
		return nil, &TransformError{Err: fmt.Errorf("decoding sru response: %w", err)}
	}
	if len(sr.Diagnostics) > 0 && len(sr.Records) == 0 {
		d := sr.Diagnostics[0]
		return nil, &DiagnosticError{URI: d.URI, Message: strings.TrimSpace(d.Message + " " + d.Details)}
	}

	var (
		records []*z3950.MARCRecord
		failed  int
		lastErr error
	)
	for i, r := range sr.Records {
		data := r.Data.Inner
		if !bytes.Contains(data, []byte("<")) {
			// recordPacking=string: the record arrives escaped.
			data = []byte(r.Data.Text)
		}
		rec, err := z3950.ParseMARCXML(bytes.TrimSpace(data))
		if err != nil {
			failed++
			lastErr = fmt.Errorf("record %d: %w", i+1, err)
			continue
		}
		rec.PopulateWithProfile(profile)
		records = append(records, rec)
	}
	if failed > 0 {
		return records, &TransformError{Failed: failed, Err: lastErr}
	}
	return records, nil
}
