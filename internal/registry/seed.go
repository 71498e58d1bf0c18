package registry

const sdPrefix = "http://hl7.org/fhir/StructureDefinition/"

// Seed installs the built-in R4 conformance content: the complex datatypes
// and the resource types the server supports out of the box, with their core
// search parameters. Conformance packages loaded from disk replace seeded
// definitions that share a canonical URL.
func Seed(r *Registry) error {
	for _, sd := range seedDefinitions() {
		if err := r.RegisterDefinition(sd); err != nil {
			return err
		}
	}
	for _, sp := range seedParameters() {
		if err := r.RegisterParam(sp); err != nil {
			return err
		}
	}
	return nil
}

func intPtr(n int) *int { return &n }

func el(path string, min int, max string, typeCodes ...string) ElementDefinition {
	types := make([]ElementType, len(typeCodes))
	for i, c := range typeCodes {
		types[i] = ElementType{Code: c}
	}
	return ElementDefinition{ID: path, Path: path, Min: intPtr(min), Max: max, Type: types}
}

func ref(path string, min int, max string, targets ...string) ElementDefinition {
	t := ElementType{Code: "Reference"}
	for _, target := range targets {
		t.TargetProfile = append(t.TargetProfile, sdPrefix+target)
	}
	return ElementDefinition{ID: path, Path: path, Min: intPtr(min), Max: max, Type: []ElementType{t}}
}

func bb(path string, min int, max string) ElementDefinition {
	return el(path, min, max, "BackboneElement")
}

func datatypeDef(name string, elements ...ElementDefinition) *StructureDefinition {
	els := []ElementDefinition{
		{ID: name, Path: name, Min: intPtr(0), Max: "*"},
		el(name+".id", 0, "1", "string"),
		el(name+".extension", 0, "*", "Extension"),
	}
	els = append(els, elements...)
	return &StructureDefinition{
		ResourceType:   "StructureDefinition",
		ID:             name,
		URL:            sdPrefix + name,
		Name:           name,
		Status:         "active",
		Kind:           "complex-type",
		Type:           name,
		BaseDefinition: sdPrefix + "Element",
		Derivation:     "specialization",
		Snapshot:       &ElementList{Element: els},
	}
}

func resourceDef(name string, elements ...ElementDefinition) *StructureDefinition {
	els := []ElementDefinition{
		{ID: name, Path: name, Min: intPtr(0), Max: "*"},
		el(name+".id", 0, "1", "id"),
		el(name+".meta", 0, "1", "Meta"),
		el(name+".implicitRules", 0, "1", "uri"),
		el(name+".language", 0, "1", "code"),
		el(name+".text", 0, "1", "Narrative"),
		el(name+".contained", 0, "*", "Resource"),
		el(name+".extension", 0, "*", "Extension"),
		el(name+".modifierExtension", 0, "*", "Extension"),
	}
	els = append(els, elements...)
	return &StructureDefinition{
		ResourceType:   "StructureDefinition",
		ID:             name,
		URL:            sdPrefix + name,
		Name:           name,
		Status:         "active",
		Kind:           "resource",
		Type:           name,
		BaseDefinition: sdPrefix + "DomainResource",
		Derivation:     "specialization",
		Snapshot:       &ElementList{Element: els},
	}
}

func seedDefinitions() []*StructureDefinition {
	return []*StructureDefinition{
		datatypeDef("Meta",
			el("Meta.versionId", 0, "1", "id"),
			el("Meta.lastUpdated", 0, "1", "instant"),
			el("Meta.source", 0, "1", "uri"),
			el("Meta.profile", 0, "*", "canonical"),
			el("Meta.security", 0, "*", "Coding"),
			el("Meta.tag", 0, "*", "Coding"),
		),
		datatypeDef("Narrative",
			el("Narrative.status", 1, "1", "code"),
			el("Narrative.div", 1, "1", "xhtml"),
		),
		datatypeDef("Extension",
			el("Extension.url", 1, "1", "uri"),
			el("Extension.value[x]", 0, "1",
				"string", "code", "boolean", "integer", "decimal", "date",
				"dateTime", "uri", "CodeableConcept", "Coding", "Quantity",
				"Reference", "Period", "Identifier"),
		),
		datatypeDef("Coding",
			el("Coding.system", 0, "1", "uri"),
			el("Coding.version", 0, "1", "string"),
			el("Coding.code", 0, "1", "code"),
			el("Coding.display", 0, "1", "string"),
			el("Coding.userSelected", 0, "1", "boolean"),
		),
		datatypeDef("CodeableConcept",
			el("CodeableConcept.coding", 0, "*", "Coding"),
			el("CodeableConcept.text", 0, "1", "string"),
		),
		datatypeDef("Identifier",
			el("Identifier.use", 0, "1", "code"),
			el("Identifier.type", 0, "1", "CodeableConcept"),
			el("Identifier.system", 0, "1", "uri"),
			el("Identifier.value", 0, "1", "string"),
			el("Identifier.period", 0, "1", "Period"),
			ref("Identifier.assigner", 0, "1", "Organization"),
		),
		datatypeDef("HumanName",
			el("HumanName.use", 0, "1", "code"),
			el("HumanName.text", 0, "1", "string"),
			el("HumanName.family", 0, "1", "string"),
			el("HumanName.given", 0, "*", "string"),
			el("HumanName.prefix", 0, "*", "string"),
			el("HumanName.suffix", 0, "*", "string"),
			el("HumanName.period", 0, "1", "Period"),
		),
		datatypeDef("Address",
			el("Address.use", 0, "1", "code"),
			el("Address.type", 0, "1", "code"),
			el("Address.text", 0, "1", "string"),
			el("Address.line", 0, "*", "string"),
			el("Address.city", 0, "1", "string"),
			el("Address.district", 0, "1", "string"),
			el("Address.state", 0, "1", "string"),
			el("Address.postalCode", 0, "1", "string"),
			el("Address.country", 0, "1", "string"),
			el("Address.period", 0, "1", "Period"),
		),
		datatypeDef("ContactPoint",
			el("ContactPoint.system", 0, "1", "code"),
			el("ContactPoint.value", 0, "1", "string"),
			el("ContactPoint.use", 0, "1", "code"),
			el("ContactPoint.rank", 0, "1", "positiveInt"),
			el("ContactPoint.period", 0, "1", "Period"),
		),
		datatypeDef("Quantity",
			el("Quantity.value", 0, "1", "decimal"),
			el("Quantity.comparator", 0, "1", "code"),
			el("Quantity.unit", 0, "1", "string"),
			el("Quantity.system", 0, "1", "uri"),
			el("Quantity.code", 0, "1", "code"),
		),
		datatypeDef("Period",
			el("Period.start", 0, "1", "dateTime"),
			el("Period.end", 0, "1", "dateTime"),
		),
		datatypeDef("Range",
			el("Range.low", 0, "1", "Quantity"),
			el("Range.high", 0, "1", "Quantity"),
		),
		datatypeDef("Ratio",
			el("Ratio.numerator", 0, "1", "Quantity"),
			el("Ratio.denominator", 0, "1", "Quantity"),
		),
		datatypeDef("Reference",
			el("Reference.reference", 0, "1", "string"),
			el("Reference.type", 0, "1", "uri"),
			el("Reference.identifier", 0, "1", "Identifier"),
			el("Reference.display", 0, "1", "string"),
		),
		datatypeDef("Annotation",
			el("Annotation.author[x]", 0, "1", "Reference", "string"),
			el("Annotation.time", 0, "1", "dateTime"),
			el("Annotation.text", 1, "1", "markdown"),
		),

		resourceDef("Patient",
			el("Patient.identifier", 0, "*", "Identifier"),
			el("Patient.active", 0, "1", "boolean"),
			el("Patient.name", 0, "*", "HumanName"),
			el("Patient.telecom", 0, "*", "ContactPoint"),
			el("Patient.gender", 0, "1", "code"),
			el("Patient.birthDate", 0, "1", "date"),
			el("Patient.deceased[x]", 0, "1", "boolean", "dateTime"),
			el("Patient.address", 0, "*", "Address"),
			el("Patient.maritalStatus", 0, "1", "CodeableConcept"),
			el("Patient.multipleBirth[x]", 0, "1", "boolean", "integer"),
			bb("Patient.contact", 0, "*"),
			el("Patient.contact.relationship", 0, "*", "CodeableConcept"),
			el("Patient.contact.name", 0, "1", "HumanName"),
			el("Patient.contact.telecom", 0, "*", "ContactPoint"),
			el("Patient.contact.address", 0, "1", "Address"),
			el("Patient.contact.gender", 0, "1", "code"),
			ref("Patient.contact.organization", 0, "1", "Organization"),
			el("Patient.contact.period", 0, "1", "Period"),
			bb("Patient.communication", 0, "*"),
			el("Patient.communication.language", 1, "1", "CodeableConcept"),
			el("Patient.communication.preferred", 0, "1", "boolean"),
			ref("Patient.generalPractitioner", 0, "*", "Organization", "Practitioner", "PractitionerRole"),
			ref("Patient.managingOrganization", 0, "1", "Organization"),
			bb("Patient.link", 0, "*"),
			ref("Patient.link.other", 1, "1", "Patient", "RelatedPerson"),
			el("Patient.link.type", 1, "1", "code"),
		),
		resourceDef("Practitioner",
			el("Practitioner.identifier", 0, "*", "Identifier"),
			el("Practitioner.active", 0, "1", "boolean"),
			el("Practitioner.name", 0, "*", "HumanName"),
			el("Practitioner.telecom", 0, "*", "ContactPoint"),
			el("Practitioner.address", 0, "*", "Address"),
			el("Practitioner.gender", 0, "1", "code"),
			el("Practitioner.birthDate", 0, "1", "date"),
			bb("Practitioner.qualification", 0, "*"),
			el("Practitioner.qualification.identifier", 0, "*", "Identifier"),
			el("Practitioner.qualification.code", 1, "1", "CodeableConcept"),
			el("Practitioner.qualification.period", 0, "1", "Period"),
			ref("Practitioner.qualification.issuer", 0, "1", "Organization"),
		),
		resourceDef("Organization",
			el("Organization.identifier", 0, "*", "Identifier"),
			el("Organization.active", 0, "1", "boolean"),
			el("Organization.type", 0, "*", "CodeableConcept"),
			el("Organization.name", 0, "1", "string"),
			el("Organization.alias", 0, "*", "string"),
			el("Organization.telecom", 0, "*", "ContactPoint"),
			el("Organization.address", 0, "*", "Address"),
			ref("Organization.partOf", 0, "1", "Organization"),
		),
		resourceDef("Location",
			el("Location.identifier", 0, "*", "Identifier"),
			el("Location.status", 0, "1", "code"),
			el("Location.name", 0, "1", "string"),
			el("Location.alias", 0, "*", "string"),
			el("Location.description", 0, "1", "string"),
			el("Location.mode", 0, "1", "code"),
			el("Location.type", 0, "*", "CodeableConcept"),
			el("Location.telecom", 0, "*", "ContactPoint"),
			el("Location.address", 0, "1", "Address"),
			el("Location.physicalType", 0, "1", "CodeableConcept"),
			bb("Location.position", 0, "1"),
			el("Location.position.longitude", 1, "1", "decimal"),
			el("Location.position.latitude", 1, "1", "decimal"),
			el("Location.position.altitude", 0, "1", "decimal"),
			ref("Location.managingOrganization", 0, "1", "Organization"),
			ref("Location.partOf", 0, "1", "Location"),
		),
		resourceDef("Encounter",
			el("Encounter.identifier", 0, "*", "Identifier"),
			el("Encounter.status", 1, "1", "code"),
			el("Encounter.class", 1, "1", "Coding"),
			el("Encounter.type", 0, "*", "CodeableConcept"),
			el("Encounter.serviceType", 0, "1", "CodeableConcept"),
			el("Encounter.priority", 0, "1", "CodeableConcept"),
			ref("Encounter.subject", 0, "1", "Patient", "Group"),
			bb("Encounter.participant", 0, "*"),
			el("Encounter.participant.type", 0, "*", "CodeableConcept"),
			el("Encounter.participant.period", 0, "1", "Period"),
			ref("Encounter.participant.individual", 0, "1", "Practitioner", "PractitionerRole", "RelatedPerson"),
			el("Encounter.period", 0, "1", "Period"),
			el("Encounter.reasonCode", 0, "*", "CodeableConcept"),
			bb("Encounter.location", 0, "*"),
			ref("Encounter.location.location", 1, "1", "Location"),
			el("Encounter.location.status", 0, "1", "code"),
			el("Encounter.location.period", 0, "1", "Period"),
			ref("Encounter.serviceProvider", 0, "1", "Organization"),
			ref("Encounter.partOf", 0, "1", "Encounter"),
		),
		resourceDef("Observation",
			el("Observation.identifier", 0, "*", "Identifier"),
			ref("Observation.basedOn", 0, "*", "ServiceRequest", "CarePlan", "MedicationRequest"),
			ref("Observation.partOf", 0, "*", "Procedure", "Immunization"),
			el("Observation.status", 1, "1", "code"),
			el("Observation.category", 0, "*", "CodeableConcept"),
			el("Observation.code", 1, "1", "CodeableConcept"),
			ref("Observation.subject", 0, "1", "Patient", "Group", "Device", "Location"),
			ref("Observation.encounter", 0, "1", "Encounter"),
			el("Observation.effective[x]", 0, "1", "dateTime", "Period", "instant"),
			el("Observation.issued", 0, "1", "instant"),
			ref("Observation.performer", 0, "*", "Practitioner", "PractitionerRole", "Organization", "Patient"),
			el("Observation.value[x]", 0, "1",
				"Quantity", "CodeableConcept", "string", "boolean", "integer",
				"Range", "Ratio", "time", "dateTime", "Period"),
			el("Observation.dataAbsentReason", 0, "1", "CodeableConcept"),
			el("Observation.interpretation", 0, "*", "CodeableConcept"),
			el("Observation.note", 0, "*", "Annotation"),
			el("Observation.bodySite", 0, "1", "CodeableConcept"),
			el("Observation.method", 0, "1", "CodeableConcept"),
			ref("Observation.device", 0, "1", "Device"),
			bb("Observation.referenceRange", 0, "*"),
			el("Observation.referenceRange.low", 0, "1", "Quantity"),
			el("Observation.referenceRange.high", 0, "1", "Quantity"),
			el("Observation.referenceRange.type", 0, "1", "CodeableConcept"),
			el("Observation.referenceRange.text", 0, "1", "string"),
			ref("Observation.hasMember", 0, "*", "Observation"),
			ref("Observation.derivedFrom", 0, "*", "Observation", "DocumentReference"),
			bb("Observation.component", 0, "*"),
			el("Observation.component.code", 1, "1", "CodeableConcept"),
			el("Observation.component.value[x]", 0, "1",
				"Quantity", "CodeableConcept", "string", "boolean", "integer",
				"Range", "Ratio", "time", "dateTime", "Period"),
			el("Observation.component.dataAbsentReason", 0, "1", "CodeableConcept"),
			el("Observation.component.interpretation", 0, "*", "CodeableConcept"),
		),
		resourceDef("Condition",
			el("Condition.identifier", 0, "*", "Identifier"),
			el("Condition.clinicalStatus", 0, "1", "CodeableConcept"),
			el("Condition.verificationStatus", 0, "1", "CodeableConcept"),
			el("Condition.category", 0, "*", "CodeableConcept"),
			el("Condition.severity", 0, "1", "CodeableConcept"),
			el("Condition.code", 0, "1", "CodeableConcept"),
			el("Condition.bodySite", 0, "*", "CodeableConcept"),
			ref("Condition.subject", 1, "1", "Patient", "Group"),
			ref("Condition.encounter", 0, "1", "Encounter"),
			el("Condition.onset[x]", 0, "1", "dateTime", "Period", "Range", "string"),
			el("Condition.abatement[x]", 0, "1", "dateTime", "Period", "Range", "string"),
			el("Condition.recordedDate", 0, "1", "dateTime"),
			ref("Condition.recorder", 0, "1", "Practitioner", "PractitionerRole", "Patient"),
			ref("Condition.asserter", 0, "1", "Practitioner", "PractitionerRole", "Patient"),
			el("Condition.note", 0, "*", "Annotation"),
		),
		resourceDef("Procedure",
			el("Procedure.identifier", 0, "*", "Identifier"),
			el("Procedure.status", 1, "1", "code"),
			el("Procedure.statusReason", 0, "1", "CodeableConcept"),
			el("Procedure.category", 0, "1", "CodeableConcept"),
			el("Procedure.code", 0, "1", "CodeableConcept"),
			ref("Procedure.subject", 1, "1", "Patient", "Group"),
			ref("Procedure.encounter", 0, "1", "Encounter"),
			el("Procedure.performed[x]", 0, "1", "dateTime", "Period", "string"),
			ref("Procedure.recorder", 0, "1", "Practitioner", "PractitionerRole", "Patient"),
			bb("Procedure.performer", 0, "*"),
			el("Procedure.performer.function", 0, "1", "CodeableConcept"),
			ref("Procedure.performer.actor", 1, "1", "Practitioner", "PractitionerRole", "Organization"),
			el("Procedure.reasonCode", 0, "*", "CodeableConcept"),
			el("Procedure.bodySite", 0, "*", "CodeableConcept"),
			el("Procedure.outcome", 0, "1", "CodeableConcept"),
			el("Procedure.note", 0, "*", "Annotation"),
		),
		resourceDef("MedicationRequest",
			el("MedicationRequest.identifier", 0, "*", "Identifier"),
			el("MedicationRequest.status", 1, "1", "code"),
			el("MedicationRequest.statusReason", 0, "1", "CodeableConcept"),
			el("MedicationRequest.intent", 1, "1", "code"),
			el("MedicationRequest.category", 0, "*", "CodeableConcept"),
			el("MedicationRequest.priority", 0, "1", "code"),
			el("MedicationRequest.medication[x]", 1, "1", "CodeableConcept", "Reference"),
			ref("MedicationRequest.subject", 1, "1", "Patient", "Group"),
			ref("MedicationRequest.encounter", 0, "1", "Encounter"),
			el("MedicationRequest.authoredOn", 0, "1", "dateTime"),
			ref("MedicationRequest.requester", 0, "1", "Practitioner", "PractitionerRole", "Organization", "Patient"),
			el("MedicationRequest.note", 0, "*", "Annotation"),
			bb("MedicationRequest.dosageInstruction", 0, "*"),
			el("MedicationRequest.dosageInstruction.text", 0, "1", "string"),
		),
		resourceDef("AllergyIntolerance",
			el("AllergyIntolerance.identifier", 0, "*", "Identifier"),
			el("AllergyIntolerance.clinicalStatus", 0, "1", "CodeableConcept"),
			el("AllergyIntolerance.verificationStatus", 0, "1", "CodeableConcept"),
			el("AllergyIntolerance.type", 0, "1", "code"),
			el("AllergyIntolerance.category", 0, "*", "code"),
			el("AllergyIntolerance.criticality", 0, "1", "code"),
			el("AllergyIntolerance.code", 0, "1", "CodeableConcept"),
			ref("AllergyIntolerance.patient", 1, "1", "Patient"),
			ref("AllergyIntolerance.encounter", 0, "1", "Encounter"),
			el("AllergyIntolerance.onset[x]", 0, "1", "dateTime", "Period", "Range", "string"),
			el("AllergyIntolerance.recordedDate", 0, "1", "dateTime"),
			el("AllergyIntolerance.note", 0, "*", "Annotation"),
			bb("AllergyIntolerance.reaction", 0, "*"),
			el("AllergyIntolerance.reaction.substance", 0, "1", "CodeableConcept"),
			el("AllergyIntolerance.reaction.manifestation", 1, "*", "CodeableConcept"),
			el("AllergyIntolerance.reaction.description", 0, "1", "string"),
			el("AllergyIntolerance.reaction.severity", 0, "1", "code"),
		),
		resourceDef("DiagnosticReport",
			el("DiagnosticReport.identifier", 0, "*", "Identifier"),
			ref("DiagnosticReport.basedOn", 0, "*", "ServiceRequest", "CarePlan", "MedicationRequest"),
			el("DiagnosticReport.status", 1, "1", "code"),
			el("DiagnosticReport.category", 0, "*", "CodeableConcept"),
			el("DiagnosticReport.code", 1, "1", "CodeableConcept"),
			ref("DiagnosticReport.subject", 0, "1", "Patient", "Group", "Device", "Location"),
			ref("DiagnosticReport.encounter", 0, "1", "Encounter"),
			el("DiagnosticReport.effective[x]", 0, "1", "dateTime", "Period"),
			el("DiagnosticReport.issued", 0, "1", "instant"),
			ref("DiagnosticReport.performer", 0, "*", "Practitioner", "PractitionerRole", "Organization"),
			ref("DiagnosticReport.result", 0, "*", "Observation"),
			el("DiagnosticReport.conclusion", 0, "1", "string"),
			el("DiagnosticReport.conclusionCode", 0, "*", "CodeableConcept"),
		),
		resourceDef("ServiceRequest",
			el("ServiceRequest.identifier", 0, "*", "Identifier"),
			ref("ServiceRequest.basedOn", 0, "*", "ServiceRequest", "CarePlan", "MedicationRequest"),
			el("ServiceRequest.status", 1, "1", "code"),
			el("ServiceRequest.intent", 1, "1", "code"),
			el("ServiceRequest.category", 0, "*", "CodeableConcept"),
			el("ServiceRequest.priority", 0, "1", "code"),
			el("ServiceRequest.code", 0, "1", "CodeableConcept"),
			ref("ServiceRequest.subject", 1, "1", "Patient", "Group", "Device", "Location"),
			ref("ServiceRequest.encounter", 0, "1", "Encounter"),
			el("ServiceRequest.occurrence[x]", 0, "1", "dateTime", "Period"),
			el("ServiceRequest.authoredOn", 0, "1", "dateTime"),
			ref("ServiceRequest.requester", 0, "1", "Practitioner", "PractitionerRole", "Organization", "Patient"),
			ref("ServiceRequest.performer", 0, "*", "Practitioner", "PractitionerRole", "Organization"),
			el("ServiceRequest.reasonCode", 0, "*", "CodeableConcept"),
			el("ServiceRequest.note", 0, "*", "Annotation"),
		),
		resourceDef("Immunization",
			el("Immunization.identifier", 0, "*", "Identifier"),
			el("Immunization.status", 1, "1", "code"),
			el("Immunization.statusReason", 0, "1", "CodeableConcept"),
			el("Immunization.vaccineCode", 1, "1", "CodeableConcept"),
			ref("Immunization.patient", 1, "1", "Patient"),
			ref("Immunization.encounter", 0, "1", "Encounter"),
			el("Immunization.occurrence[x]", 1, "1", "dateTime", "string"),
			el("Immunization.primarySource", 0, "1", "boolean"),
			ref("Immunization.location", 0, "1", "Location"),
			el("Immunization.lotNumber", 0, "1", "string"),
			el("Immunization.expirationDate", 0, "1", "date"),
			el("Immunization.site", 0, "1", "CodeableConcept"),
			el("Immunization.route", 0, "1", "CodeableConcept"),
			el("Immunization.doseQuantity", 0, "1", "Quantity"),
			bb("Immunization.performer", 0, "*"),
			el("Immunization.performer.function", 0, "1", "CodeableConcept"),
			ref("Immunization.performer.actor", 1, "1", "Practitioner", "PractitionerRole", "Organization"),
			el("Immunization.reasonCode", 0, "*", "CodeableConcept"),
		),
		resourceDef("CarePlan",
			el("CarePlan.identifier", 0, "*", "Identifier"),
			ref("CarePlan.basedOn", 0, "*", "CarePlan"),
			ref("CarePlan.replaces", 0, "*", "CarePlan"),
			ref("CarePlan.partOf", 0, "*", "CarePlan"),
			el("CarePlan.status", 1, "1", "code"),
			el("CarePlan.intent", 1, "1", "code"),
			el("CarePlan.category", 0, "*", "CodeableConcept"),
			el("CarePlan.title", 0, "1", "string"),
			el("CarePlan.description", 0, "1", "string"),
			ref("CarePlan.subject", 1, "1", "Patient", "Group"),
			ref("CarePlan.encounter", 0, "1", "Encounter"),
			el("CarePlan.period", 0, "1", "Period"),
			ref("CarePlan.author", 0, "1", "Practitioner", "PractitionerRole", "Organization", "Patient"),
			ref("CarePlan.addresses", 0, "*", "Condition"),
			bb("CarePlan.activity", 0, "*"),
			ref("CarePlan.activity.reference", 0, "1", "ServiceRequest", "MedicationRequest"),
		),
		resourceDef("Device",
			el("Device.identifier", 0, "*", "Identifier"),
			el("Device.status", 0, "1", "code"),
			el("Device.manufacturer", 0, "1", "string"),
			el("Device.lotNumber", 0, "1", "string"),
			el("Device.serialNumber", 0, "1", "string"),
			bb("Device.deviceName", 0, "*"),
			el("Device.deviceName.name", 1, "1", "string"),
			el("Device.deviceName.type", 1, "1", "code"),
			el("Device.type", 0, "1", "CodeableConcept"),
			ref("Device.patient", 0, "1", "Patient"),
			ref("Device.owner", 0, "1", "Organization"),
			ref("Device.location", 0, "1", "Location"),
		),
	}
}

func param(id, code, typ string, bases []string, expr string, targets ...string) *SearchParameter {
	return &SearchParameter{
		ResourceType: "SearchParameter",
		ID:           id,
		URL:          baseSpecPrefix + id,
		Name:         code,
		Code:         code,
		Status:       "active",
		Base:         bases,
		Type:         typ,
		Expression:   expr,
		Target:       targets,
	}
}

func seedParameters() []*SearchParameter {
	clinical := []string{
		"AllergyIntolerance", "CarePlan", "Condition", "DiagnosticReport",
		"Encounter", "Immunization", "MedicationRequest", "Observation",
		"Procedure", "ServiceRequest",
	}
	return []*SearchParameter{
		// Cross-resource clinical parameters.
		param("clinical-patient", "patient", SearchTypeReference, clinical,
			"AllergyIntolerance.patient | CarePlan.subject.where(resolve() is Patient) | Condition.subject.where(resolve() is Patient) | DiagnosticReport.subject.where(resolve() is Patient) | Encounter.subject.where(resolve() is Patient) | Immunization.patient | MedicationRequest.subject.where(resolve() is Patient) | Observation.subject.where(resolve() is Patient) | Procedure.subject.where(resolve() is Patient) | ServiceRequest.subject.where(resolve() is Patient)",
			"Patient"),
		param("clinical-code", "code", SearchTypeToken,
			[]string{"AllergyIntolerance", "Condition", "DiagnosticReport", "Observation", "Procedure", "ServiceRequest"},
			"AllergyIntolerance.code | AllergyIntolerance.reaction.substance | Condition.code | DiagnosticReport.code | Observation.code | Procedure.code | ServiceRequest.code"),
		param("clinical-date", "date", SearchTypeDate,
			[]string{"AllergyIntolerance", "CarePlan", "Condition", "DiagnosticReport", "Encounter", "Immunization", "Observation", "Procedure"},
			"AllergyIntolerance.recordedDate | CarePlan.period | (Condition.onset as dateTime) | DiagnosticReport.effective | Encounter.period | (Immunization.occurrence as dateTime) | Observation.effective | (Procedure.performed as dateTime)"),
		param("clinical-encounter", "encounter", SearchTypeReference,
			[]string{"DiagnosticReport", "Observation", "Procedure", "ServiceRequest"},
			"DiagnosticReport.encounter | Observation.encounter | Procedure.encounter | ServiceRequest.encounter",
			"Encounter"),
		param("clinical-identifier", "identifier", SearchTypeToken, clinical,
			"AllergyIntolerance.identifier | CarePlan.identifier | Condition.identifier | DiagnosticReport.identifier | Encounter.identifier | Immunization.identifier | MedicationRequest.identifier | Observation.identifier | Procedure.identifier | ServiceRequest.identifier"),

		// Patient.
		param("Patient-name", "name", SearchTypeString, []string{"Patient"}, "Patient.name"),
		param("individual-family", "family", SearchTypeString, []string{"Patient", "Practitioner"},
			"Patient.name.family | Practitioner.name.family"),
		param("individual-given", "given", SearchTypeString, []string{"Patient", "Practitioner"},
			"Patient.name.given | Practitioner.name.given"),
		param("individual-gender", "gender", SearchTypeToken, []string{"Patient", "Practitioner"},
			"Patient.gender | Practitioner.gender"),
		param("individual-birthdate", "birthdate", SearchTypeDate, []string{"Patient"}, "Patient.birthDate"),
		param("individual-address", "address", SearchTypeString, []string{"Patient", "Practitioner"},
			"Patient.address | Practitioner.address"),
		param("individual-address-city", "address-city", SearchTypeString, []string{"Patient", "Practitioner"},
			"Patient.address.city | Practitioner.address.city"),
		param("individual-address-state", "address-state", SearchTypeString, []string{"Patient", "Practitioner"},
			"Patient.address.state | Practitioner.address.state"),
		param("individual-address-postalcode", "address-postalcode", SearchTypeString, []string{"Patient", "Practitioner"},
			"Patient.address.postalCode | Practitioner.address.postalCode"),
		param("individual-telecom", "telecom", SearchTypeToken, []string{"Patient", "Practitioner"},
			"Patient.telecom | Practitioner.telecom"),
		param("individual-phone", "phone", SearchTypeToken, []string{"Patient", "Practitioner"},
			"Patient.telecom.where(system='phone') | Practitioner.telecom.where(system='phone')"),
		param("individual-email", "email", SearchTypeToken, []string{"Patient", "Practitioner"},
			"Patient.telecom.where(system='email') | Practitioner.telecom.where(system='email')"),
		param("Patient-identifier", "identifier", SearchTypeToken, []string{"Patient"}, "Patient.identifier"),
		param("Patient-active", "active", SearchTypeToken, []string{"Patient"}, "Patient.active"),
		param("Patient-death-date", "death-date", SearchTypeDate, []string{"Patient"},
			"(Patient.deceased as dateTime)"),
		param("Patient-general-practitioner", "general-practitioner", SearchTypeReference, []string{"Patient"},
			"Patient.generalPractitioner", "Organization", "Practitioner", "PractitionerRole"),
		param("Patient-organization", "organization", SearchTypeReference, []string{"Patient"},
			"Patient.managingOrganization", "Organization"),
		param("Patient-language", "language", SearchTypeToken, []string{"Patient"},
			"Patient.communication.language"),
		param("Patient-link", "link", SearchTypeReference, []string{"Patient"},
			"Patient.link.other", "Patient", "RelatedPerson"),

		// Practitioner and Organization.
		param("Practitioner-name", "name", SearchTypeString, []string{"Practitioner"}, "Practitioner.name"),
		param("Practitioner-identifier", "identifier", SearchTypeToken, []string{"Practitioner"},
			"Practitioner.identifier"),
		param("Practitioner-active", "active", SearchTypeToken, []string{"Practitioner"}, "Practitioner.active"),
		param("Organization-name", "name", SearchTypeString, []string{"Organization"},
			"Organization.name | Organization.alias"),
		param("Organization-identifier", "identifier", SearchTypeToken, []string{"Organization"},
			"Organization.identifier"),
		param("Organization-active", "active", SearchTypeToken, []string{"Organization"}, "Organization.active"),
		param("Organization-type", "type", SearchTypeToken, []string{"Organization"}, "Organization.type"),
		param("Organization-partof", "partof", SearchTypeReference, []string{"Organization"},
			"Organization.partOf", "Organization"),
		param("Organization-address", "address", SearchTypeString, []string{"Organization"},
			"Organization.address"),
		param("Organization-address-city", "address-city", SearchTypeString, []string{"Organization"},
			"Organization.address.city"),

		// Location.
		param("Location-name", "name", SearchTypeString, []string{"Location"},
			"Location.name | Location.alias"),
		param("Location-status", "status", SearchTypeToken, []string{"Location"}, "Location.status"),
		param("Location-address", "address", SearchTypeString, []string{"Location"}, "Location.address"),
		param("Location-address-city", "address-city", SearchTypeString, []string{"Location"},
			"Location.address.city"),
		param("Location-organization", "organization", SearchTypeReference, []string{"Location"},
			"Location.managingOrganization", "Organization"),
		param("Location-partof", "partof", SearchTypeReference, []string{"Location"},
			"Location.partOf", "Location"),
		param("Location-identifier", "identifier", SearchTypeToken, []string{"Location"}, "Location.identifier"),

		// Encounter.
		param("Encounter-status", "status", SearchTypeToken, []string{"Encounter"}, "Encounter.status"),
		param("Encounter-class", "class", SearchTypeToken, []string{"Encounter"}, "Encounter.class"),
		param("Encounter-type", "type", SearchTypeToken, []string{"Encounter"}, "Encounter.type"),
		param("Encounter-subject", "subject", SearchTypeReference, []string{"Encounter"},
			"Encounter.subject", "Patient", "Group"),
		param("Encounter-participant", "participant", SearchTypeReference, []string{"Encounter"},
			"Encounter.participant.individual", "Practitioner", "PractitionerRole", "RelatedPerson"),
		param("Encounter-location", "location", SearchTypeReference, []string{"Encounter"},
			"Encounter.location.location", "Location"),
		param("Encounter-service-provider", "service-provider", SearchTypeReference, []string{"Encounter"},
			"Encounter.serviceProvider", "Organization"),
		param("Encounter-part-of", "part-of", SearchTypeReference, []string{"Encounter"},
			"Encounter.partOf", "Encounter"),

		// Observation.
		param("Observation-status", "status", SearchTypeToken, []string{"Observation"}, "Observation.status"),
		param("Observation-category", "category", SearchTypeToken, []string{"Observation"},
			"Observation.category"),
		param("Observation-subject", "subject", SearchTypeReference, []string{"Observation"},
			"Observation.subject", "Patient", "Group", "Device", "Location"),
		param("Observation-performer", "performer", SearchTypeReference, []string{"Observation"},
			"Observation.performer", "Practitioner", "PractitionerRole", "Organization", "Patient"),
		param("Observation-value-quantity", "value-quantity", SearchTypeQuantity, []string{"Observation"},
			"(Observation.value as Quantity)"),
		param("Observation-value-concept", "value-concept", SearchTypeToken, []string{"Observation"},
			"(Observation.value as CodeableConcept)"),
		param("Observation-value-date", "value-date", SearchTypeDate, []string{"Observation"},
			"(Observation.value as dateTime) | (Observation.value as Period)"),
		param("Observation-value-string", "value-string", SearchTypeString, []string{"Observation"},
			"(Observation.value as string)"),
		param("Observation-component-code", "component-code", SearchTypeToken, []string{"Observation"},
			"Observation.component.code"),
		param("Observation-component-value-quantity", "component-value-quantity", SearchTypeQuantity,
			[]string{"Observation"}, "(Observation.component.value as Quantity)"),
		param("Observation-combo-code", "combo-code", SearchTypeToken, []string{"Observation"},
			"Observation.code | Observation.component.code"),
		param("Observation-issued", "issued", SearchTypeDate, []string{"Observation"}, "Observation.issued"),
		param("Observation-based-on", "based-on", SearchTypeReference, []string{"Observation"},
			"Observation.basedOn", "ServiceRequest", "CarePlan", "MedicationRequest"),
		param("Observation-has-member", "has-member", SearchTypeReference, []string{"Observation"},
			"Observation.hasMember", "Observation"),

		// Condition.
		param("Condition-clinical-status", "clinical-status", SearchTypeToken, []string{"Condition"},
			"Condition.clinicalStatus"),
		param("Condition-verification-status", "verification-status", SearchTypeToken, []string{"Condition"},
			"Condition.verificationStatus"),
		param("Condition-category", "category", SearchTypeToken, []string{"Condition"}, "Condition.category"),
		param("Condition-severity", "severity", SearchTypeToken, []string{"Condition"}, "Condition.severity"),
		param("Condition-subject", "subject", SearchTypeReference, []string{"Condition"},
			"Condition.subject", "Patient", "Group"),
		param("Condition-encounter", "encounter", SearchTypeReference, []string{"Condition"},
			"Condition.encounter", "Encounter"),
		param("Condition-onset-date", "onset-date", SearchTypeDate, []string{"Condition"},
			"(Condition.onset as dateTime) | (Condition.onset as Period)"),
		param("Condition-recorded-date", "recorded-date", SearchTypeDate, []string{"Condition"},
			"Condition.recordedDate"),

		// Procedure, AllergyIntolerance, Immunization.
		param("Procedure-status", "status", SearchTypeToken, []string{"Procedure"}, "Procedure.status"),
		param("Procedure-subject", "subject", SearchTypeReference, []string{"Procedure"},
			"Procedure.subject", "Patient", "Group"),
		param("AllergyIntolerance-clinical-status", "clinical-status", SearchTypeToken,
			[]string{"AllergyIntolerance"}, "AllergyIntolerance.clinicalStatus"),
		param("AllergyIntolerance-criticality", "criticality", SearchTypeToken,
			[]string{"AllergyIntolerance"}, "AllergyIntolerance.criticality"),
		param("AllergyIntolerance-category", "category", SearchTypeToken,
			[]string{"AllergyIntolerance"}, "AllergyIntolerance.category"),
		param("Immunization-status", "status", SearchTypeToken, []string{"Immunization"},
			"Immunization.status"),
		param("Immunization-vaccine-code", "vaccine-code", SearchTypeToken, []string{"Immunization"},
			"Immunization.vaccineCode"),
		param("Immunization-lot-number", "lot-number", SearchTypeString, []string{"Immunization"},
			"Immunization.lotNumber"),

		// DiagnosticReport and ServiceRequest.
		param("DiagnosticReport-status", "status", SearchTypeToken, []string{"DiagnosticReport"},
			"DiagnosticReport.status"),
		param("DiagnosticReport-category", "category", SearchTypeToken, []string{"DiagnosticReport"},
			"DiagnosticReport.category"),
		param("DiagnosticReport-issued", "issued", SearchTypeDate, []string{"DiagnosticReport"},
			"DiagnosticReport.issued"),
		param("DiagnosticReport-result", "result", SearchTypeReference, []string{"DiagnosticReport"},
			"DiagnosticReport.result", "Observation"),
		param("DiagnosticReport-subject", "subject", SearchTypeReference, []string{"DiagnosticReport"},
			"DiagnosticReport.subject", "Patient", "Group", "Device", "Location"),
		param("ServiceRequest-status", "status", SearchTypeToken, []string{"ServiceRequest"},
			"ServiceRequest.status"),
		param("ServiceRequest-intent", "intent", SearchTypeToken, []string{"ServiceRequest"},
			"ServiceRequest.intent"),
		param("ServiceRequest-authored", "authored", SearchTypeDate, []string{"ServiceRequest"},
			"ServiceRequest.authoredOn"),
		param("ServiceRequest-occurrence", "occurrence", SearchTypeDate, []string{"ServiceRequest"},
			"(ServiceRequest.occurrence as dateTime) | (ServiceRequest.occurrence as Period)"),
		param("ServiceRequest-requester", "requester", SearchTypeReference, []string{"ServiceRequest"},
			"ServiceRequest.requester", "Practitioner", "PractitionerRole", "Organization", "Patient"),
		param("ServiceRequest-subject", "subject", SearchTypeReference, []string{"ServiceRequest"},
			"ServiceRequest.subject", "Patient", "Group", "Device", "Location"),

		// MedicationRequest, CarePlan, Device.
		param("medications-status", "status", SearchTypeToken, []string{"MedicationRequest"},
			"MedicationRequest.status"),
		param("MedicationRequest-intent", "intent", SearchTypeToken, []string{"MedicationRequest"},
			"MedicationRequest.intent"),
		param("medications-code", "code", SearchTypeToken, []string{"MedicationRequest"},
			"(MedicationRequest.medication as CodeableConcept)"),
		param("medications-medication", "medication", SearchTypeReference, []string{"MedicationRequest"},
			"(MedicationRequest.medication as Reference)", "Medication"),
		param("MedicationRequest-authoredon", "authoredon", SearchTypeDate, []string{"MedicationRequest"},
			"MedicationRequest.authoredOn"),
		param("MedicationRequest-requester", "requester", SearchTypeReference, []string{"MedicationRequest"},
			"MedicationRequest.requester", "Practitioner", "PractitionerRole", "Organization", "Patient"),
		param("MedicationRequest-subject", "subject", SearchTypeReference, []string{"MedicationRequest"},
			"MedicationRequest.subject", "Patient", "Group"),
		param("CarePlan-status", "status", SearchTypeToken, []string{"CarePlan"}, "CarePlan.status"),
		param("CarePlan-intent", "intent", SearchTypeToken, []string{"CarePlan"}, "CarePlan.intent"),
		param("CarePlan-category", "category", SearchTypeToken, []string{"CarePlan"}, "CarePlan.category"),
		param("CarePlan-subject", "subject", SearchTypeReference, []string{"CarePlan"},
			"CarePlan.subject", "Patient", "Group"),
		param("Device-status", "status", SearchTypeToken, []string{"Device"}, "Device.status"),
		param("Device-type", "type", SearchTypeToken, []string{"Device"}, "Device.type"),
		param("Device-patient", "patient", SearchTypeReference, []string{"Device"},
			"Device.patient", "Patient"),
		param("Device-organization", "organization", SearchTypeReference, []string{"Device"},
			"Device.owner", "Organization"),
		param("Device-identifier", "identifier", SearchTypeToken, []string{"Device"}, "Device.identifier"),
		param("Device-device-name", "device-name", SearchTypeString, []string{"Device"},
			"Device.deviceName.name | Device.type.coding.display | Device.type.text"),
	}
}
