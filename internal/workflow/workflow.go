// Package workflow derives a visit's stage from the sub-records attached to it
// and decides whether a document may be uploaded at that stage.
package workflow

import (
	"context"
	"errors"
)

// ErrVisitNotFound is returned by a Reader when the visit does not exist.
var ErrVisitNotFound = errors.New("visit not found")

// Snapshot is the presence projection of a visit's sub-records. It is read
// fresh for every decision and never stored.
type Snapshot struct {
	VisitID         string `json:"visitId"`
	HasNurseRecord  bool   `json:"hasNurseRecord"`
	HasDoctorRecord bool   `json:"hasDoctorRecord"`
	HasDocument     bool   `json:"hasDocument"`
	DispenseCount   int64  `json:"dispenseCount"`
}

// Stage is the derived position of a visit in the writer, nurse, doctor,
// pharmacist progression.
type Stage string

const (
	StageAwaitingNurse     Stage = "awaiting_nurse"
	StageAwaitingClinician Stage = "awaiting_clinician"
	StageAwaitingPharmacy  Stage = "awaiting_pharmacy"
	StageDispensed         Stage = "dispensed"
)

// Stage computes the visit stage from the snapshot.
func (s Snapshot) Stage() Stage {
	switch {
	case s.DispenseCount > 0:
		return StageDispensed
	case s.HasDoctorRecord:
		return StageAwaitingPharmacy
	case s.HasNurseRecord:
		return StageAwaitingClinician
	default:
		return StageAwaitingNurse
	}
}

// Reason explains why a gate refused an upload.
type Reason string

const (
	ReasonNone                   Reason = ""
	ReasonNoNurseRecord          Reason = "NoNurseRecord"
	ReasonAlreadyHasDoctorRecord Reason = "AlreadyHasDoctorRecord"
	ReasonAlreadyDispensed       Reason = "AlreadyDispensed"
	ReasonDocumentAlreadyExists  Reason = "DocumentAlreadyExists"
)

var reasonMessages = map[Reason]string{
	ReasonNoNurseRecord:          "vital signs must be recorded before a document can be uploaded",
	ReasonAlreadyHasDoctorRecord: "the doctor has already seen this visit; continue through the pharmacy",
	ReasonAlreadyDispensed:       "medicine has already been dispensed for this visit",
	ReasonDocumentAlreadyExists:  "a document has already been uploaded for this visit",
}

// Message returns a human readable explanation of the reason.
func (r Reason) Message() string {
	return reasonMessages[r]
}

// Decision is the outcome of a gate.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason,omitempty"`
}

func allow() Decision { return Decision{Allowed: true} }
func deny(r Reason) Decision { return Decision{Reason: r} }

// Gate decides whether an upload is permitted for a snapshot.
type Gate func(Snapshot) Decision

// NurseUpload allows a nurse to attach a document only while the visit sits
// between the nurse note and the doctor record.
func NurseUpload(s Snapshot) Decision {
	switch {
	case !s.HasNurseRecord:
		return deny(ReasonNoNurseRecord)
	case s.HasDoctorRecord:
		return deny(ReasonAlreadyHasDoctorRecord)
	case s.DispenseCount > 0:
		return deny(ReasonAlreadyDispensed)
	case s.HasDocument:
		return deny(ReasonDocumentAlreadyExists)
	}
	return allow()
}

// PharmacistUpload only refuses a second document.
func PharmacistUpload(s Snapshot) Decision {
	if s.HasDocument {
		return deny(ReasonDocumentAlreadyExists)
	}
	return allow()
}

// Reader exposes the read-only lifecycle projection of a visit.
type Reader interface {
	Snapshot(ctx context.Context, visitID string) (Snapshot, error)
}
