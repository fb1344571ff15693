package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/inpatient-cdi-review/internal/core/domain"
)

// TableRef names a schema-qualified warehouse table.
type TableRef struct {
	Schema string `yaml:"schema"`
	Name   string `yaml:"name"`
}

func (t TableRef) String() string { return t.Schema + "." + t.Name }

// Tables locates the clinical warehouse tables the repositories read.
type Tables struct {
	Inpatient          TableRef `yaml:"inpatient"`
	DischargeDiagnosis TableRef `yaml:"discharge_diagnosis"`
	ICD10              TableRef `yaml:"icd10"`
	ICD10Description   TableRef `yaml:"icd10_description"`
	ICD9               TableRef `yaml:"icd9"`
	ICD9Description    TableRef `yaml:"icd9_description"`
	Document           TableRef `yaml:"document"`
	DocumentText       TableRef `yaml:"document_text"`
	DocumentDefinition TableRef `yaml:"document_definition"`
	Staff              TableRef `yaml:"staff"`
	VitalSign          TableRef `yaml:"vital_sign"`
	VitalType          TableRef `yaml:"vital_type"`
	LabChem            TableRef `yaml:"lab_chem"`
	LabChemTest        TableRef `yaml:"lab_chem_test"`
	SpecialtyTransfer  TableRef `yaml:"specialty_transfer"`
	TreatingSpecialty  TableRef `yaml:"treating_specialty"`
}

// RoleProbe is one staff-directory table that may carry role-indicating text.
type RoleProbe struct {
	Name        string   `yaml:"name"`
	Table       TableRef `yaml:"table"`
	KeyColumn   string   `yaml:"key_column"`
	RoleColumns []string `yaml:"role_columns"`
}

type SpecialtyMap struct {
	Categories map[string][]string `yaml:"categories"`
	Keywords   map[string][]string `yaml:"keywords"`
}

// ClinicalCatalog is the site-specific description of the clinical warehouse.
type ClinicalCatalog struct {
	Tables              Tables       `yaml:"tables"`
	ProviderClasses     []string     `yaml:"provider_classes"`
	RoleProbes          []RoleProbe  `yaml:"role_probes"`
	TraineeKeywords     []string     `yaml:"trainee_keywords"`
	LIPKeywords         []string     `yaml:"lip_keywords"`
	Specialties         SpecialtyMap `yaml:"specialties"`
	MaxNotes            int          `yaml:"max_notes"`
	TrailingBufferHours int          `yaml:"trailing_buffer_hours"`
}

func (c ClinicalCatalog) TrailingBuffer() time.Duration {
	return time.Duration(c.TrailingBufferHours) * time.Hour
}

func (c ClinicalCatalog) RoleKeywords() domain.RoleKeywords {
	return domain.RoleKeywords{Trainee: c.TraineeKeywords, LIP: c.LIPKeywords}
}

func (c ClinicalCatalog) SpecialtyCatalog() domain.SpecialtyCatalog {
	return domain.NewSpecialtyCatalog(c.Specialties.Categories, c.Specialties.Keywords)
}

// LoadClinicalCatalog reads a YAML catalog over the built-in defaults. An
// empty path yields the defaults.
func LoadClinicalCatalog(path string) (ClinicalCatalog, error) {
	catalog := DefaultClinicalCatalog()
	if strings.TrimSpace(path) == "" {
		return catalog, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return ClinicalCatalog{}, domain.WrapError(domain.ErrConfiguration, "load clinical catalog", err)
	}
	if err := yaml.Unmarshal(raw, &catalog); err != nil {
		return ClinicalCatalog{}, domain.WrapError(domain.ErrConfiguration, "parse clinical catalog", err)
	}
	if err := catalog.validate(); err != nil {
		return ClinicalCatalog{}, domain.WrapError(domain.ErrConfiguration, "validate clinical catalog", err)
	}
	return catalog, nil
}

func (c ClinicalCatalog) validate() error {
	if len(c.ProviderClasses) == 0 {
		return fmt.Errorf("provider_classes must not be empty")
	}
	for i, probe := range c.RoleProbes {
		if probe.Table.Name == "" || probe.KeyColumn == "" || len(probe.RoleColumns) == 0 {
			return fmt.Errorf("role_probes[%d] needs table, key_column and role_columns", i)
		}
	}
	if c.MaxNotes <= 0 {
		return fmt.Errorf("max_notes must be positive")
	}
	if c.TrailingBufferHours < 0 {
		return fmt.Errorf("trailing_buffer_hours must not be negative")
	}
	return nil
}

// DefaultClinicalCatalog mirrors the CDW layout used in production.
func DefaultClinicalCatalog() ClinicalCatalog {
	return ClinicalCatalog{
		Tables: Tables{
			Inpatient:          TableRef{"Inpat", "Inpatient"},
			DischargeDiagnosis: TableRef{"Inpat", "InpatientDischargeDiagnosis"},
			ICD10:              TableRef{"Dim", "ICD10"},
			ICD10Description:   TableRef{"Dim", "ICD10DescriptionVersion"},
			ICD9:               TableRef{"Dim", "ICD9"},
			ICD9Description:    TableRef{"Dim", "ICD9DescriptionVersion"},
			Document:           TableRef{"TIU", "TIUDocument"},
			DocumentText:       TableRef{"STIUNotes", "TIUDocument_8925"},
			DocumentDefinition: TableRef{"Dim", "TIUDocumentDefinition"},
			Staff:              TableRef{"Staff", "Staff"},
			VitalSign:          TableRef{"Vital", "VitalSign"},
			VitalType:          TableRef{"Dim", "VitalType"},
			LabChem:            TableRef{"Chem", "LabChem"},
			LabChemTest:        TableRef{"Dim", "LabChemTest"},
			SpecialtyTransfer:  TableRef{"Inpat", "SpecialtyTransfer"},
			TreatingSpecialty:  TableRef{"Dim", "TreatingSpecialty"},
		},
		ProviderClasses: []string{
			"PHYSICIAN", "PHYSICIAN ASSISTANT", "RESIDENT PODIATRIST", "RESIDENT- ORAL SURGERY",
			"RESIDENT PSYCHIATRIST", "CONSULTANT", "RESIDENT-PHYSICIAN", "RESIDENT PHYSICIAN",
			"RESIDENT SURGEON", "FELLOW", "PSYCHIATRIST", "SURGEON", "WOC ATTENDING", "ORAL SURGEON",
			"PHYSICIAN (DUPLICATE)", "PHYSICIAN (CONTRACT)", "PHYSICIAN (WOC)", "ANESTHESIOLOGIST",
			"PULMONOLOGIST", "PATHOLOGIST", "STAFF PSYCHIATRIST", "HOUSESTAFF", "RESIDENT-DENTIST",
			"ORTHOPEDICS", "OPTOMETRY", "DO", "PA", "INTERN",
		},
		RoleProbes: []RoleProbe{
			{Name: "staff_provider_class", Table: TableRef{"Staff", "Staff"}, KeyColumn: "StaffSID", RoleColumns: []string{"ProviderClass", "PositionTitle"}},
			{Name: "sstaff_person_class", Table: TableRef{"SStaff", "SStaff"}, KeyColumn: "StaffSID", RoleColumns: []string{"PersonClass", "ProviderType"}},
		},
		TraineeKeywords: []string{"RESIDENT", "INTERN", "FELLOW", "HOUSESTAFF", "TRAINEE", "STUDENT"},
		LIPKeywords: []string{
			"PHYSICIAN", "SURGEON", "ATTENDING", "PSYCHIATRIST", "ANESTHESIOLOGIST", "PULMONOLOGIST",
			"PATHOLOGIST", "CONSULTANT", "PODIATRIST", "DENTIST", "OPTOMETRIST", "ORTHOPEDICS", "OPTOMETRY",
			"NURSE PRACTITIONER", "PHYSICIAN ASSISTANT", "DO", "MD", "PA", "NP",
		},
		Specialties: SpecialtyMap{
			Categories: map[string][]string{
				"MEDICAL":                {"GENERAL(ACUTE MEDICINE)", "CARDIOLOGY", "MEDICAL ICU", "PULMONARY, TUBERCULOSIS", "GEM ACUTE MEDICINE", "TELEMETRY", "NEUROLOGY", "GASTROENTEROLOGY"},
				"SURGICAL":               {"GENERAL SURGERY", "ORTHOPEDIC", "SURGICAL ICU", "VASCULAR", "UROLOGY", "THORACIC SURGERY", "NEUROSURGERY", "PODIATRY"},
				"PSYCHIATRIC":            {"ACUTE PSYCHIATRY (<45 DAYS)", "GENERAL PSYCHIATRY", "SUBSTANCE ABUSE TRMT UNIT", "PSYCH RESID REHAB PROG"},
				"REHABILITATION":         {"REHABILITATION MEDICINE", "SPINAL CORD INJURY", "BLIND REHAB"},
				"HOSPICE/LONG-TERM CARE": {"HOSPICE FOR ACUTE CARE", "NH HOSPICE", "NH LONG STAY", "NH SHORT STAY REHABILITATION"},
				"RESIDENTIAL":            {"DOMICILIARY", "DOMICILIARY CHV", "PRRTP"},
				"OBSERVATION":            {"MEDICAL OBSERVATION", "SURGICAL OBSERVATION", "PSYCHIATRIC OBSERVATION"},
			},
			Keywords: map[string][]string{
				"OBSERVATION":            {"OBSERVATION"},
				"PSYCHIATRIC":            {"PSYCH", "SUBSTANCE"},
				"REHABILITATION":         {"REHAB"},
				"HOSPICE/LONG-TERM CARE": {"HOSPICE", "NH LONG", "NH SHORT", "LONG STAY"},
				"RESIDENTIAL":            {"DOMICILIARY", "RESIDENTIAL"},
				"SURGICAL":               {"SURG", "ORTHOPED", "VASCULAR"},
				"MEDICAL":                {"MEDICINE", "MEDICAL", "CARDIO", "ICU"},
			},
		},
		MaxNotes:            200,
		TrailingBufferHours: 24,
	}
}
