package models

import "fmt"

// AccountIdentifierKind discriminates which single field an
// AccountIdentifier carries.
type AccountIdentifierKind int

const (
	KindID AccountIdentifierKind = iota
	KindEmail
	KindPhone
	KindHealthCode
	KindExternalID
)

func (k AccountIdentifierKind) String() string {
	switch k {
	case KindID:
		return "id"
	case KindEmail:
		return "email"
	case KindPhone:
		return "phone"
	case KindHealthCode:
		return "healthCode"
	case KindExternalID:
		return "externalId"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// AccountIdentifier is a discriminated lookup key: exactly one identifying
// field, always paired with a study scope. In the default guarded mode,
// reading a field other than the discriminant is a programming error and
// panics. Unguarded() lifts that discipline for callers that must inspect
// every field, such as constraint-violation disambiguation.
//
// Two identifiers being equal only asserts that the same lookup was
// requested, not that they resolve to the same account.
type AccountIdentifier struct {
	studyID string
	kind    AccountIdentifierKind

	id         string
	email      string
	phone      *Phone
	healthCode string
	externalID string

	unguarded bool
}

func ForID(studyID, id string) AccountIdentifier {
	return AccountIdentifier{studyID: studyID, kind: KindID, id: id}
}

func ForEmail(studyID, email string) AccountIdentifier {
	return AccountIdentifier{studyID: studyID, kind: KindEmail, email: email}
}

func ForPhone(studyID string, phone Phone) AccountIdentifier {
	p := phone
	return AccountIdentifier{studyID: studyID, kind: KindPhone, phone: &p}
}

func ForHealthCode(studyID, healthCode string) AccountIdentifier {
	return AccountIdentifier{studyID: studyID, kind: KindHealthCode, healthCode: healthCode}
}

func ForExternalID(studyID, externalID string) AccountIdentifier {
	return AccountIdentifier{studyID: studyID, kind: KindExternalID, externalID: externalID}
}

// StudyID returns the mandatory study scope.
func (ai AccountIdentifier) StudyID() string { return ai.studyID }

// Kind returns the discriminant.
func (ai AccountIdentifier) Kind() AccountIdentifierKind { return ai.kind }

// Unguarded returns a copy whose accessors never panic; unset fields read
// as zero values.
func (ai AccountIdentifier) Unguarded() AccountIdentifier {
	ai.unguarded = true
	return ai
}

func (ai AccountIdentifier) guard(want AccountIdentifierKind) {
	if !ai.unguarded && ai.kind != want {
		panic(fmt.Sprintf("account identifier holds %s, not %s", ai.kind, want))
	}
}

func (ai AccountIdentifier) ID() string {
	ai.guard(KindID)
	return ai.id
}

func (ai AccountIdentifier) Email() string {
	ai.guard(KindEmail)
	return ai.email
}

func (ai AccountIdentifier) Phone() *Phone {
	ai.guard(KindPhone)
	return ai.phone
}

func (ai AccountIdentifier) HealthCode() string {
	ai.guard(KindHealthCode)
	return ai.healthCode
}

func (ai AccountIdentifier) ExternalID() string {
	ai.guard(KindExternalID)
	return ai.externalID
}
