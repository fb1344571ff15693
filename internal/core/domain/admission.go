package domain

import (
	"errors"
	"time"
)

// Admission is one inpatient stay as recorded in the clinical warehouse.
type Admission struct {
	AdmissionKey      string     `json:"admission_key"`
	PatientKey        string     `json:"patient_key"`
	BillingID         string     `json:"billing_id"`
	Station           string     `json:"station"`
	AdmitTime         time.Time  `json:"admit_time"`
	DischargeTime     *time.Time `json:"discharge_time,omitempty"`
	Specialty         string     `json:"specialty,omitempty"`
	SpecialtyCategory string     `json:"specialty_category,omitempty"`
}

// Window returns the admission window, ending at now when the stay is still open.
func (a Admission) Window(now time.Time) (time.Time, time.Time) {
	if a.DischargeTime != nil {
		return a.AdmitTime, *a.DischargeTime
	}
	return a.AdmitTime, now
}

// WindowWithBuffer extends the window end by a trailing buffer.
func (a Admission) WindowWithBuffer(now time.Time, trailing time.Duration) (time.Time, time.Time) {
	start, end := a.Window(now)
	return start, end.Add(trailing)
}

// Validate checks the discharge-after-admit invariant.
func (a Admission) Validate() error {
	if a.AdmissionKey == "" {
		return WrapError(ErrUnexpectedResponse, "validate admission", errors.New("admission key is empty"))
	}
	if a.DischargeTime != nil && a.DischargeTime.Before(a.AdmitTime) {
		return WrapError(ErrUnexpectedResponse, "validate admission", errors.New("discharge precedes admit"))
	}
	return nil
}

// LengthOfStayDays is whole days between admit and discharge, zero for open stays.
func (a Admission) LengthOfStayDays() int {
	if a.DischargeTime == nil {
		return 0
	}
	return int(a.DischargeTime.Sub(a.AdmitTime).Hours() / 24)
}

// DischargedAdmission is one row of the discharged-patient search.
type DischargedAdmission struct {
	Admission
	LengthOfStayDays int `json:"length_of_stay_days"`
}

// DischargeSearch bounds the discharged-patient search.
type DischargeSearch struct {
	From    time.Time
	To      time.Time
	Station string
	Limit   int
}
