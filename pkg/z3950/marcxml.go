package z3950

import (
	"bytes"
	"encoding/xml"
	"fmt"
)

// MARCXML (MARC 21 slim) record. Namespaces are ignored so both prefixed
// and default-namespace documents decode.
type XMLRecord struct {
	XMLName       xml.Name          `xml:"record"`
	Leader        string            `xml:"leader"`
	ControlFields []XMLControlField `xml:"controlfield"`
	DataFields    []XMLDataField    `xml:"datafield"`
}

type XMLControlField struct {
	Tag   string `xml:"tag,attr"`
	Value string `xml:",chardata"`
}

type XMLDataField struct {
	Tag       string        `xml:"tag,attr"`
	Ind1      string        `xml:"ind1,attr"`
	Ind2      string        `xml:"ind2,attr"`
	Subfields []XMLSubfield `xml:"subfield"`
}

type XMLSubfield struct {
	Code  string `xml:"code,attr"`
	Value string `xml:",chardata"`
}

// ParseMARCXML decodes a single MARCXML <record> element.
func ParseMARCXML(data []byte) (*MARCRecord, error) {
	var xr XMLRecord
	if err := xml.NewDecoder(bytes.NewReader(data)).Decode(&xr); err != nil {
		return nil, fmt.Errorf("decoding marcxml: %w", err)
	}
	return xr.ToRecord()
}

// ToRecord converts the XML form into a MARCRecord with Raw set to its
// ISO 2709 encoding.
func (xr *XMLRecord) ToRecord() (*MARCRecord, error) {
	leader := xr.Leader
	if leader == "" {
		leader = defaultLeader
	}
	if len(leader) != 24 {
		return nil, fmt.Errorf("leader must be 24 characters, got %d", len(leader))
	}

	rec := &MARCRecord{Leader: leader}
	for _, cf := range xr.ControlFields {
		if len(cf.Tag) != 3 {
			return nil, fmt.Errorf("invalid control field tag %q", cf.Tag)
		}
		rec.Fields = append(rec.Fields, MARCField{Tag: cf.Tag, Value: cf.Value})
	}
	for _, df := range xr.DataFields {
		if len(df.Tag) != 3 {
			return nil, fmt.Errorf("invalid data field tag %q", df.Tag)
		}
		f := MARCField{Tag: df.Tag, Indicators: indicator(df.Ind1) + indicator(df.Ind2)}
		for _, sf := range df.Subfields {
			if len(sf.Code) != 1 {
				return nil, fmt.Errorf("field %s: invalid subfield code %q", df.Tag, sf.Code)
			}
			f.Subfields = append(f.Subfields, Subfield{Code: sf.Code, Value: sf.Value})
		}
		f.refreshValue()
		rec.Fields = append(rec.Fields, f)
	}

	raw, err := rec.Marshal()
	if err != nil {
		return nil, err
	}
	rec.Raw = raw
	rec.Leader = string(raw[:24])
	rec.PopulateFriendlyFields()
	return rec, nil
}

func indicator(s string) string {
	if len(s) != 1 {
		return " "
	}
	return s
}
