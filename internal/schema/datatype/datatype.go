// Package datatype defines the closed set of HL7 v2 datatypes understood by the validator.
// Each datatype belongs to exactly one Class; checking a value dispatches on the class.
package datatype

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Tag names a datatype, e.g. "ST" or "XPN".
type Tag string

const (
	ST     Tag = "ST"
	TX     Tag = "TX"
	FT     Tag = "FT"
	NM     Tag = "NM"
	SI     Tag = "SI"
	SN     Tag = "SN"
	ID     Tag = "ID"
	IS     Tag = "IS"
	DT     Tag = "DT"
	TM     Tag = "TM"
	TS     Tag = "TS"
	DTM    Tag = "DTM"
	HD     Tag = "HD"
	EI     Tag = "EI"
	CX     Tag = "CX"
	XPN    Tag = "XPN"
	XAD    Tag = "XAD"
	XTN    Tag = "XTN"
	XCN    Tag = "XCN"
	CE     Tag = "CE"
	CWE    Tag = "CWE"
	CNE    Tag = "CNE"
	CM     Tag = "CM"
	MSG    Tag = "MSG"
	PT     Tag = "PT"
	VID    Tag = "VID"
	PL     Tag = "PL"
	DLN    Tag = "DLN"
	Varies Tag = "VARIES"
)

// Class is the variant a datatype belongs to.
type Class int

const (
	ClassString Class = iota
	ClassText
	ClassNumeric
	ClassSequence
	ClassCoded
	ClassDate
	ClassTime
	ClassTimestamp
	ClassComposite
	ClassVaries
)

func (c Class) String() string {
	switch c {
	case ClassString:
		return "string"
	case ClassText:
		return "text"
	case ClassNumeric:
		return "numeric"
	case ClassSequence:
		return "sequence"
	case ClassCoded:
		return "coded"
	case ClassDate:
		return "date"
	case ClassTime:
		return "time"
	case ClassTimestamp:
		return "timestamp"
	case ClassComposite:
		return "composite"
	case ClassVaries:
		return "varies"
	default:
		return "unknown"
	}
}

// Component describes one component of a composite datatype.
type Component struct {
	Name  string
	Type  Tag
	Table string
}

// Datatype is one member of the closed datatype set.
type Datatype struct {
	Tag         Tag
	Class       Class
	Description string
	// Components is set for composite datatypes.
	Components []Component
}

// Composite reports whether the datatype has component rules.
func (d Datatype) Composite() bool { return d.Class == ClassComposite }

var registry = map[Tag]Datatype{
	ST:  {Tag: ST, Class: ClassString, Description: "String data"},
	TX:  {Tag: TX, Class: ClassText, Description: "Text data"},
	FT:  {Tag: FT, Class: ClassText, Description: "Formatted text"},
	NM:  {Tag: NM, Class: ClassNumeric, Description: "Numeric"},
	SI:  {Tag: SI, Class: ClassSequence, Description: "Sequence ID"},
	ID:  {Tag: ID, Class: ClassCoded, Description: "Coded value for HL7 defined tables"},
	IS:  {Tag: IS, Class: ClassCoded, Description: "Coded value for user defined tables"},
	DT:  {Tag: DT, Class: ClassDate, Description: "Date"},
	TM:  {Tag: TM, Class: ClassTime, Description: "Time"},
	DTM: {Tag: DTM, Class: ClassTimestamp, Description: "Date/time"},
	TS: {Tag: TS, Class: ClassComposite, Description: "Time stamp", Components: []Component{
		{Name: "Time", Type: DTM},
		{Name: "Degree of Precision", Type: ID, Table: "0529"},
	}},
	SN: {Tag: SN, Class: ClassComposite, Description: "Structured numeric", Components: []Component{
		{Name: "Comparator", Type: ST},
		{Name: "Num1", Type: NM},
		{Name: "Separator/Suffix", Type: ST},
		{Name: "Num2", Type: NM},
	}},
	HD: {Tag: HD, Class: ClassComposite, Description: "Hierarchic designator", Components: []Component{
		{Name: "Namespace ID", Type: IS, Table: "0300"},
		{Name: "Universal ID", Type: ST},
		{Name: "Universal ID Type", Type: ID, Table: "0301"},
	}},
	EI: {Tag: EI, Class: ClassComposite, Description: "Entity identifier", Components: []Component{
		{Name: "Entity Identifier", Type: ST},
		{Name: "Namespace ID", Type: IS},
		{Name: "Universal ID", Type: ST},
		{Name: "Universal ID Type", Type: ID, Table: "0301"},
	}},
	CX: {Tag: CX, Class: ClassComposite, Description: "Extended composite ID with check digit", Components: []Component{
		{Name: "ID Number", Type: ST},
		{Name: "Check Digit", Type: ST},
		{Name: "Check Digit Scheme", Type: ID, Table: "0061"},
		{Name: "Assigning Authority", Type: HD},
		{Name: "Identifier Type Code", Type: ID, Table: "0203"},
		{Name: "Assigning Facility", Type: HD},
		{Name: "Effective Date", Type: DT},
		{Name: "Expiration Date", Type: DT},
	}},
	XPN: {Tag: XPN, Class: ClassComposite, Description: "Extended person name", Components: []Component{
		{Name: "Family Name", Type: ST},
		{Name: "Given Name", Type: ST},
		{Name: "Second and Further Given Names", Type: ST},
		{Name: "Suffix", Type: ST},
		{Name: "Prefix", Type: ST},
		{Name: "Degree", Type: IS},
		{Name: "Name Type Code", Type: ID, Table: "0200"},
		{Name: "Name Representation Code", Type: ID, Table: "0465"},
	}},
	XAD: {Tag: XAD, Class: ClassComposite, Description: "Extended address", Components: []Component{
		{Name: "Street Address", Type: ST},
		{Name: "Other Designation", Type: ST},
		{Name: "City", Type: ST},
		{Name: "State or Province", Type: ST},
		{Name: "Zip or Postal Code", Type: ST},
		{Name: "Country", Type: ID, Table: "0399"},
		{Name: "Address Type", Type: ID, Table: "0190"},
		{Name: "Other Geographic Designation", Type: ST},
		{Name: "County/Parish Code", Type: IS, Table: "0289"},
	}},
	XTN: {Tag: XTN, Class: ClassComposite, Description: "Extended telecommunication number", Components: []Component{
		{Name: "Telephone Number", Type: ST},
		{Name: "Telecommunication Use Code", Type: ID, Table: "0201"},
		{Name: "Telecommunication Equipment Type", Type: ID, Table: "0202"},
		{Name: "Email Address", Type: ST},
		{Name: "Country Code", Type: NM},
		{Name: "Area/City Code", Type: NM},
		{Name: "Local Number", Type: NM},
		{Name: "Extension", Type: NM},
		{Name: "Any Text", Type: ST},
	}},
	XCN: {Tag: XCN, Class: ClassComposite, Description: "Extended composite ID number and name for persons", Components: []Component{
		{Name: "ID Number", Type: ST},
		{Name: "Family Name", Type: ST},
		{Name: "Given Name", Type: ST},
		{Name: "Second and Further Given Names", Type: ST},
		{Name: "Suffix", Type: ST},
		{Name: "Prefix", Type: ST},
		{Name: "Degree", Type: IS},
		{Name: "Source Table", Type: IS},
		{Name: "Assigning Authority", Type: HD},
	}},
	CE: {Tag: CE, Class: ClassComposite, Description: "Coded element", Components: codedComponents},
	CWE: {Tag: CWE, Class: ClassComposite, Description: "Coded with exceptions", Components: codedComponents},
	CNE: {Tag: CNE, Class: ClassComposite, Description: "Coded with no exceptions", Components: codedComponents},
	CM: {Tag: CM, Class: ClassComposite, Description: "Composite (legacy)", Components: []Component{
		{Name: "Component 1", Type: ST},
		{Name: "Component 2", Type: ST},
		{Name: "Component 3", Type: ST},
	}},
	MSG: {Tag: MSG, Class: ClassComposite, Description: "Message type", Components: []Component{
		{Name: "Message Code", Type: ID, Table: "0076"},
		{Name: "Trigger Event", Type: ID, Table: "0003"},
		{Name: "Message Structure", Type: ID, Table: "0354"},
	}},
	PT: {Tag: PT, Class: ClassComposite, Description: "Processing type", Components: []Component{
		{Name: "Processing ID", Type: ID, Table: "0103"},
		{Name: "Processing Mode", Type: ID, Table: "0207"},
	}},
	VID: {Tag: VID, Class: ClassComposite, Description: "Version identifier", Components: []Component{
		{Name: "Version ID", Type: ID, Table: "0104"},
		{Name: "Internationalization Code", Type: CE},
		{Name: "International Version ID", Type: CE},
	}},
	PL: {Tag: PL, Class: ClassComposite, Description: "Person location", Components: []Component{
		{Name: "Point of Care", Type: IS, Table: "0302"},
		{Name: "Room", Type: IS, Table: "0303"},
		{Name: "Bed", Type: IS, Table: "0304"},
		{Name: "Facility", Type: HD},
		{Name: "Location Status", Type: IS, Table: "0306"},
		{Name: "Person Location Type", Type: IS, Table: "0305"},
		{Name: "Building", Type: IS, Table: "0307"},
		{Name: "Floor", Type: IS, Table: "0308"},
		{Name: "Location Description", Type: ST},
	}},
	DLN: {Tag: DLN, Class: ClassComposite, Description: "Driver's license number", Components: []Component{
		{Name: "License Number", Type: ST},
		{Name: "Issuing State, Province, Country", Type: IS, Table: "0333"},
		{Name: "Expiration Date", Type: DT},
	}},
	Varies: {Tag: Varies, Class: ClassVaries, Description: "Datatype named by another field"},
}

var codedComponents = []Component{
	{Name: "Identifier", Type: ST},
	{Name: "Text", Type: ST},
	{Name: "Name of Coding System", Type: ID, Table: "0396"},
	{Name: "Alternate Identifier", Type: ST},
	{Name: "Alternate Text", Type: ST},
	{Name: "Name of Alternate Coding System", Type: ID, Table: "0396"},
}

// Lookup returns the datatype registered for tag. Tags are case-insensitive.
func Lookup(tag Tag) (Datatype, bool) {
	d, ok := registry[Tag(strings.ToUpper(string(tag)))]
	return d, ok
}

// Known reports whether tag names a datatype.
func Known(tag Tag) bool {
	_, ok := Lookup(tag)
	return ok
}

// Check validates a non-empty primitive value against the datatype class. Composite and
// varies datatypes are checked component by component by the caller; for them Check only
// accepts the value.
func (d Datatype) Check(value string) error {
	if value == "" {
		return nil
	}
	switch d.Class {
	case ClassString, ClassText, ClassCoded, ClassComposite, ClassVaries:
		return nil
	case ClassNumeric:
		_, err := ParseNumeric(value)
		return err
	case ClassSequence:
		return checkSequence(value)
	case ClassDate:
		return checkDate(value)
	case ClassTime:
		return checkTime(value)
	case ClassTimestamp:
		return checkTimestamp(value)
	default:
		return fmt.Errorf("unknown datatype class %d", d.Class)
	}
}

// ParseNumeric parses an NM value: an optional sign, digits and an optional decimal point.
func ParseNumeric(value string) (decimal.Decimal, error) {
	s := value
	if s != "" && (s[0] == '+' || s[0] == '-') {
		s = s[1:]
	}
	digits, dots := 0, 0
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c >= '0' && c <= '9':
			digits++
		case c == '.':
			dots++
		default:
			return decimal.Decimal{}, fmt.Errorf("%q is not numeric", value)
		}
	}
	if digits == 0 || dots > 1 {
		return decimal.Decimal{}, fmt.Errorf("%q is not numeric", value)
	}
	return decimal.NewFromString(strings.TrimPrefix(value, "+"))
}

func checkSequence(value string) error {
	n, err := ParseNumeric(value)
	if err != nil || !n.IsInteger() || n.IsNegative() || strings.ContainsAny(value, ".+-") {
		return fmt.Errorf("%q is not a sequence id", value)
	}
	if len(value) > 4 {
		return fmt.Errorf("sequence id %q exceeds 4 digits", value)
	}
	return nil
}

func checkDate(value string) error {
	layouts := map[int]string{4: "2006", 6: "200601", 8: "20060102"}
	layout, ok := layouts[len(value)]
	if !ok {
		return fmt.Errorf("%q is not a date (YYYY[MM[DD]])", value)
	}
	if _, err := time.Parse(layout, value); err != nil {
		return fmt.Errorf("%q is not a valid date", value)
	}
	return nil
}

// splitZone separates a trailing +ZZZZ / -ZZZZ offset.
func splitZone(value string) (string, string, error) {
	i := strings.IndexAny(value, "+-")
	if i < 0 {
		return value, "", nil
	}
	zone := value[i:]
	if len(zone) != 5 || !allDigits(zone[1:]) {
		return "", "", fmt.Errorf("%q has an invalid time zone offset", value)
	}
	hh, mm := atoi2(zone[1:3]), atoi2(zone[3:5])
	if hh > 14 || mm > 59 {
		return "", "", fmt.Errorf("%q has an invalid time zone offset", value)
	}
	return value[:i], zone, nil
}

// splitFraction separates a trailing .S[S[S[S]]] fraction.
func splitFraction(value string) (string, error) {
	i := strings.IndexByte(value, '.')
	if i < 0 {
		return value, nil
	}
	frac := value[i+1:]
	if len(frac) < 1 || len(frac) > 4 || !allDigits(frac) {
		return "", fmt.Errorf("%q has an invalid fractional second", value)
	}
	return value[:i], nil
}

func checkClock(value string, whole string) error {
	if !allDigits(value) || len(value)%2 != 0 || len(value) == 0 || len(value) > 6 {
		return fmt.Errorf("%q is not a time (HH[MM[SS[.S]]])", whole)
	}
	limits := []int{23, 59, 59}
	for i := 0; i < len(value); i += 2 {
		if atoi2(value[i:i+2]) > limits[i/2] {
			return fmt.Errorf("%q is not a valid time", whole)
		}
	}
	return nil
}

func checkTime(value string) error {
	rest, _, err := splitZone(value)
	if err != nil {
		return err
	}
	clock, err := splitFraction(rest)
	if err != nil {
		return err
	}
	if strings.Contains(rest, ".") && len(clock) != 6 {
		return fmt.Errorf("%q has a fraction without seconds", value)
	}
	return checkClock(clock, value)
}

func checkTimestamp(value string) error {
	rest, _, err := splitZone(value)
	if err != nil {
		return err
	}
	stamp, err := splitFraction(rest)
	if err != nil {
		return err
	}
	if strings.Contains(rest, ".") && len(stamp) != 14 {
		return fmt.Errorf("%q has a fraction without seconds", value)
	}
	if !allDigits(stamp) || len(stamp) < 4 {
		return fmt.Errorf("%q is not a timestamp (YYYY[MM[DD[HH[MM[SS]]]]])", value)
	}
	datePart := stamp[:min(8, len(stamp))]
	if len(datePart) == 5 || len(datePart) == 7 {
		return fmt.Errorf("%q is not a timestamp (YYYY[MM[DD[HH[MM[SS]]]]])", value)
	}
	if err := checkDate(datePart); err != nil {
		return fmt.Errorf("%q is not a valid timestamp", value)
	}
	if len(stamp) > 8 {
		return checkClock(stamp[8:], value)
	}
	return nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}

func atoi2(s string) int {
	return int(s[0]-'0')*10 + int(s[1]-'0')
}
