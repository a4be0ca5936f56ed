package isup

import "fmt"

// MessageType is the one-octet ISUP message type code.
type MessageType uint8

// Message type codes (ITU-T Q.763 Table 4).
const (
	IAM  MessageType = 0x01 // Initial address
	SAM  MessageType = 0x02 // Subsequent address
	INR  MessageType = 0x03 // Information request
	INF  MessageType = 0x04 // Information
	COT  MessageType = 0x05 // Continuity
	ACM  MessageType = 0x06 // Address complete
	CON  MessageType = 0x07 // Connect
	ANM  MessageType = 0x09 // Answer
	REL  MessageType = 0x0C // Release
	SUS  MessageType = 0x0D // Suspend
	RES  MessageType = 0x0E // Resume
	RLC  MessageType = 0x10 // Release complete
	CCR  MessageType = 0x11 // Continuity check request
	RSC  MessageType = 0x12 // Reset circuit
	BLO  MessageType = 0x13 // Blocking
	UBL  MessageType = 0x14 // Unblocking
	BLA  MessageType = 0x15 // Blocking acknowledgement
	UBA  MessageType = 0x16 // Unblocking acknowledgement
	GRS  MessageType = 0x17 // Circuit group reset
	CGB  MessageType = 0x18 // Circuit group blocking
	CGU  MessageType = 0x19 // Circuit group unblocking
	CGBA MessageType = 0x1A // Circuit group blocking acknowledgement
	CGUA MessageType = 0x1B // Circuit group unblocking acknowledgement
	GRA  MessageType = 0x29 // Circuit group reset acknowledgement
	CQM  MessageType = 0x2A // Circuit group query
	CQR  MessageType = 0x2B // Circuit group query response
	CPG  MessageType = 0x2C // Call progress
	UCIC MessageType = 0x2E // Unequipped CIC
	CFN  MessageType = 0x2F // Confusion
)

// Parameter codes (ITU-T Q.763 Table 5).
const (
	EndOfOptionalParameters          ParameterCode = 0x00
	TransmissionMediumRequirement    ParameterCode = 0x02
	CalledPartyNumber                ParameterCode = 0x04
	SubsequentNumber                 ParameterCode = 0x05
	NatureOfConnectionIndicators     ParameterCode = 0x06
	ForwardCallIndicators            ParameterCode = 0x07
	OptionalForwardCallIndicators    ParameterCode = 0x08
	CallingPartysCategory            ParameterCode = 0x09
	CallingPartyNumber               ParameterCode = 0x0A
	RedirectingNumber                ParameterCode = 0x0B
	InformationRequestIndicators     ParameterCode = 0x0E
	InformationIndicators            ParameterCode = 0x0F
	ContinuityIndicators             ParameterCode = 0x10
	BackwardCallIndicators           ParameterCode = 0x11
	CauseIndicators                  ParameterCode = 0x12
	CircuitGroupSupervisionIndicator ParameterCode = 0x15
	RangeAndStatus                   ParameterCode = 0x16
	SuspendResumeIndicators          ParameterCode = 0x22
	EventInformation                 ParameterCode = 0x24
	CircuitStateIndicator            ParameterCode = 0x26
	OptionalBackwardCallIndicators   ParameterCode = 0x29
	UserToUserInformation            ParameterCode = 0x20
)

// FixedParameter is a mandatory parameter of fixed length.
type FixedParameter struct {
	Code   ParameterCode
	Length int
}

// Format is the grammar of one message type.
type Format struct {
	Type     MessageType
	Name     string
	Fixed    []FixedParameter
	Variable []ParameterCode
	Optional bool
}

func (f *Format) pointerCount() int {
	n := len(f.Variable)
	if f.Optional {
		n++
	}
	return n
}

func (f *Format) isMandatory(code ParameterCode) bool {
	for _, fp := range f.Fixed {
		if fp.Code == code {
			return true
		}
	}
	for _, c := range f.Variable {
		if c == code {
			return true
		}
	}
	return false
}

func (f *Format) validate() error {
	seen := make(map[ParameterCode]bool)
	for _, fp := range f.Fixed {
		if fp.Length <= 0 {
			return fmt.Errorf("fixed parameter 0x%02x of %s has length %d", uint8(fp.Code), f.Name, fp.Length)
		}
		if seen[fp.Code] {
			return fmt.Errorf("parameter 0x%02x listed twice in %s", uint8(fp.Code), f.Name)
		}
		seen[fp.Code] = true
	}
	for _, c := range f.Variable {
		if seen[c] {
			return fmt.Errorf("parameter 0x%02x listed twice in %s", uint8(c), f.Name)
		}
		seen[c] = true
	}
	if seen[EndOfOptionalParameters] {
		return fmt.Errorf("%s uses reserved parameter code 0x00", f.Name)
	}
	return nil
}

// StandardFormats returns the built-in message grammars.
func StandardFormats() []Format {
	bci := []FixedParameter{{BackwardCallIndicators, 2}}
	cgsm := []FixedParameter{{CircuitGroupSupervisionIndicator, 1}}
	rs := []ParameterCode{RangeAndStatus}

	return []Format{
		{Type: IAM, Name: "IAM", Fixed: []FixedParameter{
			{NatureOfConnectionIndicators, 1},
			{ForwardCallIndicators, 2},
			{CallingPartysCategory, 1},
			{TransmissionMediumRequirement, 1},
		}, Variable: []ParameterCode{CalledPartyNumber}, Optional: true},
		{Type: SAM, Name: "SAM", Variable: []ParameterCode{SubsequentNumber}, Optional: true},
		{Type: INR, Name: "INR", Fixed: []FixedParameter{{InformationRequestIndicators, 2}}, Optional: true},
		{Type: INF, Name: "INF", Fixed: []FixedParameter{{InformationIndicators, 2}}, Optional: true},
		{Type: COT, Name: "COT", Fixed: []FixedParameter{{ContinuityIndicators, 1}}},
		{Type: ACM, Name: "ACM", Fixed: bci, Optional: true},
		{Type: CON, Name: "CON", Fixed: bci, Optional: true},
		{Type: ANM, Name: "ANM", Optional: true},
		{Type: REL, Name: "REL", Variable: []ParameterCode{CauseIndicators}, Optional: true},
		{Type: SUS, Name: "SUS", Fixed: []FixedParameter{{SuspendResumeIndicators, 1}}, Optional: true},
		{Type: RES, Name: "RES", Fixed: []FixedParameter{{SuspendResumeIndicators, 1}}, Optional: true},
		{Type: RLC, Name: "RLC", Optional: true},
		{Type: CCR, Name: "CCR"},
		{Type: RSC, Name: "RSC"},
		{Type: BLO, Name: "BLO"},
		{Type: UBL, Name: "UBL"},
		{Type: BLA, Name: "BLA"},
		{Type: UBA, Name: "UBA"},
		{Type: GRS, Name: "GRS", Variable: rs, Optional: true},
		{Type: CGB, Name: "CGB", Fixed: cgsm, Variable: rs},
		{Type: CGU, Name: "CGU", Fixed: cgsm, Variable: rs},
		{Type: CGBA, Name: "CGBA", Fixed: cgsm, Variable: rs},
		{Type: CGUA, Name: "CGUA", Fixed: cgsm, Variable: rs},
		{Type: GRA, Name: "GRA", Variable: rs, Optional: true},
		{Type: CQM, Name: "CQM", Variable: rs},
		{Type: CQR, Name: "CQR", Variable: []ParameterCode{RangeAndStatus, CircuitStateIndicator}},
		{Type: CPG, Name: "CPG", Fixed: []FixedParameter{{EventInformation, 1}}, Optional: true},
		{Type: UCIC, Name: "UCIC"},
		{Type: CFN, Name: "CFN", Variable: []ParameterCode{CauseIndicators}, Optional: true},
	}
}

var typeNames = func() map[MessageType]string {
	m := make(map[MessageType]string)
	for _, f := range StandardFormats() {
		m[f.Type] = f.Name
	}
	return m
}()

func (t MessageType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("0x%02x", uint8(t))
}
