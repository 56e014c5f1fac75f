package z3950

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	subfieldDelimiter = 0x1f
	fieldTerminator   = 0x1e
	recordTerminator  = 0x1d

	defaultLeader = "00000nam a2200000 z 4500"
)

var isbnCleanRegex = regexp.MustCompile(`[^0-9xX]`)

type Subfield struct {
	Code  string `json:"code"`
	Value string `json:"value"`
}

// MARCField is a single variable field. Control fields (tags below 010)
// carry only Value; data fields carry Indicators and Subfields, and Value
// holds the subfield values joined by spaces.
type MARCField struct {
	Tag        string     `json:"tag"`
	Indicators string     `json:"indicators,omitempty"`
	Subfields  []Subfield `json:"subfields,omitempty"`
	Value      string     `json:"value"`
}

func (f *MARCField) refreshValue() {
	if IsControlTag(f.Tag) {
		return
	}
	parts := make([]string, 0, len(f.Subfields))
	for _, sf := range f.Subfields {
		parts = append(parts, sf.Value)
	}
	f.Value = strings.Join(parts, " ")
}

type MARCRecord struct {
	Leader    string      `json:"leader"`
	Fields    []MARCField `json:"fields"`
	RecordID  string      `json:"record_id"`
	Title     string      `json:"title"`
	Author    string      `json:"author"`
	ISBN      string      `json:"isbn"`
	ISSN      string      `json:"issn"`
	Publisher string      `json:"publisher"`
	Subject   string      `json:"subject"`
	Edition   string      `json:"edition"`
	Series    string      `json:"series"`

	// Raw is the transmission form the record was parsed from, if any.
	Raw []byte `json:"-"`
}

type MARCProfile struct {
	ISBNTag      string
	ISSNTag      string
	TitleTag     string
	AuthorTag    string
	PublisherTag string
	SubjectTag   string
}

var (
	ProfileMARC21  = MARCProfile{ISBNTag: "020", ISSNTag: "022", TitleTag: "245", AuthorTag: "100", PublisherTag: "260", SubjectTag: "650"}
	ProfileCNMARC  = MARCProfile{ISBNTag: "010", ISSNTag: "011", TitleTag: "200", AuthorTag: "200", PublisherTag: "210", SubjectTag: "606"}
	ProfileUNIMARC = MARCProfile{ISBNTag: "010", ISSNTag: "011", TitleTag: "200", AuthorTag: "700", PublisherTag: "210", SubjectTag: "606"}
)

// ProfileFor maps a target encoding name to its MARC profile.
func ProfileFor(encoding string) *MARCProfile {
	switch strings.ToUpper(encoding) {
	case "UNIMARC":
		return &ProfileUNIMARC
	case "CNMARC":
		return &ProfileCNMARC
	default:
		return &ProfileMARC21
	}
}

// IsControlTag reports whether tag is a control field (001-009).
func IsControlTag(tag string) bool {
	return len(tag) == 3 && tag < "010"
}

// ParseMARC decodes an ISO 2709 record.
func ParseMARC(data []byte) (*MARCRecord, error) {
	if len(data) < 24 {
		return nil, fmt.Errorf("data too short")
	}
	leader := string(data[:24])
	baseAddr, err := strconv.Atoi(leader[12:17])
	if err != nil {
		return nil, fmt.Errorf("bad base address %q", leader[12:17])
	}
	dirEnd := baseAddr - 1
	if dirEnd > len(data) || dirEnd < 24 {
		return nil, fmt.Errorf("bad directory")
	}
	directory := data[24:dirEnd]
	if len(directory)%12 != 0 {
		return nil, fmt.Errorf("directory length %d is not a multiple of 12", len(directory))
	}

	rec := &MARCRecord{Leader: leader, Raw: data}
	for i := 0; i+12 <= len(directory); i += 12 {
		entry := directory[i : i+12]
		tag := string(entry[:3])
		length, err := strconv.Atoi(string(entry[3:7]))
		if err != nil {
			return nil, fmt.Errorf("field %s: bad length", tag)
		}
		start, err := strconv.Atoi(string(entry[7:12]))
		if err != nil {
			return nil, fmt.Errorf("field %s: bad offset", tag)
		}
		fieldStart, fieldEnd := baseAddr+start, baseAddr+start+length
		if fieldEnd > len(data) {
			return nil, fmt.Errorf("field %s: runs past end of record", tag)
		}
		valData := bytes.TrimSuffix(data[fieldStart:fieldEnd], []byte{fieldTerminator})
		rec.Fields = append(rec.Fields, parseField(tag, valData))
	}
	rec.PopulateFriendlyFields()
	return rec, nil
}

func parseField(tag string, data []byte) MARCField {
	f := MARCField{Tag: tag}
	first := bytes.IndexByte(data, subfieldDelimiter)
	if IsControlTag(tag) || first < 0 {
		f.Value = DecodeText(data)
		return f
	}
	if first > 0 {
		f.Indicators = string(data[:first])
	}
	for _, chunk := range bytes.Split(data[first+1:], []byte{subfieldDelimiter}) {
		if len(chunk) == 0 {
			continue
		}
		f.Subfields = append(f.Subfields, Subfield{Code: string(chunk[:1]), Value: DecodeText(chunk[1:])})
	}
	f.refreshValue()
	return f
}

// Marshal encodes the record as ISO 2709.
func (r *MARCRecord) Marshal() ([]byte, error) {
	var body, dir bytes.Buffer
	for _, f := range r.Fields {
		if len(f.Tag) != 3 {
			return nil, fmt.Errorf("invalid tag %q", f.Tag)
		}
		start := body.Len()
		if IsControlTag(f.Tag) || len(f.Subfields) == 0 {
			body.WriteString(f.Value)
		} else {
			ind := f.Indicators
			if len(ind) != 2 {
				ind = "  "
			}
			body.WriteString(ind)
			for _, sf := range f.Subfields {
				if len(sf.Code) != 1 {
					return nil, fmt.Errorf("field %s: invalid subfield code %q", f.Tag, sf.Code)
				}
				body.WriteByte(subfieldDelimiter)
				body.WriteString(sf.Code)
				body.WriteString(sf.Value)
			}
		}
		body.WriteByte(fieldTerminator)
		length := body.Len() - start
		if length > 9999 {
			return nil, fmt.Errorf("field %s too long (%d bytes)", f.Tag, length)
		}
		fmt.Fprintf(&dir, "%s%04d%05d", f.Tag, length, start)
	}

	base := 24 + dir.Len() + 1
	total := base + body.Len() + 1
	if total > 99999 {
		return nil, fmt.Errorf("record too long (%d bytes)", total)
	}

	leader := r.Leader
	if len(leader) != 24 {
		leader = defaultLeader
	}
	leader = fmt.Sprintf("%05d", total) + leader[5:12] + fmt.Sprintf("%05d", base) + leader[17:]

	out := make([]byte, 0, total)
	out = append(out, leader...)
	out = append(out, dir.Bytes()...)
	out = append(out, fieldTerminator)
	out = append(out, body.Bytes()...)
	out = append(out, recordTerminator)
	return out, nil
}

func (r *MARCRecord) PopulateFriendlyFields() {
	r.PopulateWithProfile(&ProfileMARC21)
}

func (r *MARCRecord) PopulateWithProfile(p *MARCProfile) {
	r.RecordID = r.GetFieldByTag("001")
	r.Title = r.GetTitle(p)
	r.Author = r.GetAuthor(p)
	r.ISBN = r.GetISBN(p)
	r.ISSN = r.GetISSN(p)
	r.Publisher = r.GetPublisher(p)
	r.Subject = r.GetSubject(p)
	r.Edition = r.GetFieldByTag("250")

	r.Series = r.GetFieldByTag("490")
	if r.Series == "" {
		r.Series = r.GetFieldByTag("830")
	}
}

// BuildMARC assembles a minimal bibliographic record.
func BuildMARC(profile *MARCProfile, id, title, author, isbn, publisher, pubYear, issn, subject string) []byte {
	if profile == nil {
		profile = &ProfileMARC21
	}
	rec := &MARCRecord{Leader: defaultLeader}
	addC := func(tag, v string) {
		if v != "" {
			rec.Fields = append(rec.Fields, MARCField{Tag: tag, Value: v})
		}
	}
	addD := func(tag string, subs ...Subfield) {
		var kept []Subfield
		for _, s := range subs {
			if s.Value != "" {
				kept = append(kept, s)
			}
		}
		if len(kept) == 0 {
			return
		}
		f := MARCField{Tag: tag, Indicators: "  ", Subfields: kept}
		f.refreshValue()
		rec.Fields = append(rec.Fields, f)
	}

	addC("001", id)
	addC("008", "260101s2026    xx      000 0 und d")
	addD(profile.ISBNTag, Subfield{"a", isbn})
	addD(profile.ISSNTag, Subfield{"a", issn})
	if profile.TitleTag == "200" {
		addD("200", Subfield{"a", title}, Subfield{"f", author})
	} else {
		addD("100", Subfield{"a", author})
		addD("245", Subfield{"a", title})
	}
	if profile.PublisherTag == "210" {
		addD("210", Subfield{"c", publisher}, Subfield{"d", pubYear})
	} else {
		addD(profile.PublisherTag, Subfield{"b", publisher}, Subfield{"c", pubYear})
	}
	addD(profile.SubjectTag, Subfield{"a", subject})

	data, _ := rec.Marshal()
	return data
}

func (r *MARCRecord) GetFieldByTag(tag string) string {
	for _, f := range r.Fields {
		if f.Tag == tag {
			return f.Value
		}
	}
	return ""
}

// Subfield returns the first value of $code in the first field tagged tag.
func (r *MARCRecord) Subfield(tag, code string) string {
	for _, f := range r.Fields {
		if f.Tag != tag {
			continue
		}
		for _, sf := range f.Subfields {
			if sf.Code == code {
				return sf.Value
			}
		}
	}
	return ""
}

// RemoveFields deletes every field tagged tag and returns how many went.
func (r *MARCRecord) RemoveFields(tag string) int {
	kept := r.Fields[:0]
	removed := 0
	for _, f := range r.Fields {
		if f.Tag == tag {
			removed++
			continue
		}
		kept = append(kept, f)
	}
	r.Fields = kept
	return removed
}

// SetSubfield sets $code of the first field tagged tag, overwriting an
// existing value. A missing field is inserted in tag order.
func (r *MARCRecord) SetSubfield(tag, code, value string) {
	for i := range r.Fields {
		f := &r.Fields[i]
		if f.Tag != tag {
			continue
		}
		for j := range f.Subfields {
			if f.Subfields[j].Code == code {
				f.Subfields[j].Value = value
				f.refreshValue()
				return
			}
		}
		f.Subfields = append(f.Subfields, Subfield{Code: code, Value: value})
		f.refreshValue()
		return
	}

	nf := MARCField{Tag: tag, Indicators: "  ", Subfields: []Subfield{{Code: code, Value: value}}}
	nf.refreshValue()
	pos := len(r.Fields)
	for i, f := range r.Fields {
		if f.Tag > tag {
			pos = i
			break
		}
	}
	r.Fields = append(r.Fields, MARCField{})
	copy(r.Fields[pos+1:], r.Fields[pos:])
	r.Fields[pos] = nf
}

func (r *MARCRecord) GetTitle(p *MARCProfile) string {
	if p == nil {
		p = &ProfileMARC21
	}
	if t := r.Subfield(p.TitleTag, "a"); t != "" {
		if b := r.Subfield(p.TitleTag, "b"); b != "" && p.TitleTag == "245" {
			return strings.TrimSpace(strings.TrimRight(t, " :/") + " : " + strings.TrimRight(b, " /"))
		}
		return strings.TrimRight(t, " /:")
	}
	return r.GetFieldByTag(p.TitleTag)
}

func (r *MARCRecord) GetAuthor(p *MARCProfile) string {
	if p == nil {
		p = &ProfileMARC21
	}
	if p.TitleTag == "200" {
		for _, tag := range []string{"700", "701"} {
			if v := r.GetFieldByTag(tag); v != "" {
				return v
			}
		}
		if v := r.Subfield("200", "f"); v != "" {
			return v
		}
	}
	if v := r.Subfield(p.AuthorTag, "a"); v != "" {
		return strings.TrimRight(v, " ,.")
	}
	return r.GetFieldByTag(p.AuthorTag)
}

func (r *MARCRecord) GetISBN(p *MARCProfile) string {
	if p == nil {
		p = &ProfileMARC21
	}
	raw := r.Subfield(p.ISBNTag, "a")
	if raw == "" {
		raw = r.GetFieldByTag(p.ISBNTag)
	}
	// Qualifiers such as "(pbk.)" follow the number.
	if parts := strings.Fields(raw); len(parts) > 0 {
		raw = parts[0]
	}
	return isbnCleanRegex.ReplaceAllString(raw, "")
}

func (r *MARCRecord) GetISSN(p *MARCProfile) string {
	if p == nil {
		p = &ProfileMARC21
	}
	if v := r.Subfield(p.ISSNTag, "a"); v != "" {
		return v
	}
	return r.GetFieldByTag(p.ISSNTag)
}

func (r *MARCRecord) GetPublisher(p *MARCProfile) string {
	if p == nil {
		p = &ProfileMARC21
	}
	if p.TitleTag == "245" {
		if v := r.GetFieldByTag("264"); v != "" {
			return v
		}
		return r.GetFieldByTag("260")
	}
	return r.GetFieldByTag(p.PublisherTag)
}

func (r *MARCRecord) GetSubject(p *MARCProfile) string {
	if p == nil {
		p = &ProfileMARC21
	}
	return r.GetFieldByTag(p.SubjectTag)
}
