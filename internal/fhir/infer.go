package fhir

import "encoding/json"

// FHIR type names the inference ladder can produce. Complex types use their
// canonical spelling; primitives are lowercase per the FHIR type system.
const (
	TypeString          = "string"
	TypeBoolean         = "boolean"
	TypeInteger         = "integer"
	TypeDecimal         = "decimal"
	TypeCoding          = "Coding"
	TypeCodeableConcept = "CodeableConcept"
	TypeQuantity        = "Quantity"
	TypeReference       = "Reference"
	TypePeriod          = "Period"
	TypeRatio           = "Ratio"
	TypeHumanName       = "HumanName"
	TypeAddress         = "Address"
	TypeIdentifier      = "Identifier"
	TypeExtension       = "Extension"
	TypeBackbone        = "BackboneElement"
)

// InferType maps a schemaless value to a FHIR type tag using a deterministic
// shape ladder. Objects are probed for marker keys in a fixed order; the
// first rung that fits wins. Pure function: same value, same tag.
func InferType(v interface{}) string {
	switch val := v.(type) {
	case string:
		return TypeString
	case bool:
		return TypeBoolean
	case float64:
		if val == float64(int64(val)) {
			return TypeInteger
		}
		return TypeDecimal
	case json.Number:
		if _, err := val.Int64(); err == nil {
			return TypeInteger
		}
		return TypeDecimal
	case map[string]interface{}:
		return inferObjectType(val)
	}
	return ""
}

func inferObjectType(m map[string]interface{}) string {
	has := func(k string) bool {
		_, ok := m[k]
		return ok
	}
	switch {
	// Quantity carries value; a bare {system,code} pair is a Coding.
	case has("system") && has("code") && !has("value"):
		return TypeCoding
	case has("coding"):
		return TypeCodeableConcept
	case has("value") && (has("unit") || (has("system") && has("code"))):
		return TypeQuantity
	case has("reference"):
		return TypeReference
	case (has("start") || has("end")) && !has("value"):
		return TypePeriod
	case has("numerator") && has("denominator"):
		return TypeRatio
	case has("family") || has("given"):
		return TypeHumanName
	case (has("line") && has("city")) || (has("city") && has("state")):
		return TypeAddress
	case has("system") && has("value") && !has("code"):
		return TypeIdentifier
	case has("url"):
		return TypeExtension
	}
	return TypeBackbone
}

// stringLikePrimitives are the FHIR primitives assignable to string under the
// validator's compatibility ladder.
var stringLikePrimitives = map[string]bool{
	"string": true, "code": true, "id": true, "uri": true, "url": true,
	"canonical": true, "oid": true, "uuid": true, "markdown": true,
	"base64Binary": true, "date": true, "dateTime": true, "instant": true,
	"time": true, "xhtml": true,
}

// integerLike are the FHIR numeric types an inferred integer satisfies.
var integerLike = map[string]bool{
	"integer": true, "positiveInt": true, "unsignedInt": true, "decimal": true,
}

// quantityVariants are the Quantity specialisations an inferred Quantity
// satisfies.
var quantityVariants = map[string]bool{
	"Quantity": true, "Age": true, "Count": true, "Distance": true,
	"Duration": true, "Money": true, "SimpleQuantity": true, "MoneyQuantity": true,
}

// TypeAssignable reports whether a value of inferred type fits a declared
// element type. The ladder is permissive where FHIR is: string-like
// primitives collapse to string, integers satisfy the integer family,
// Quantity satisfies its variants, BackboneElement satisfies any complex
// type, and Element/Resource accept everything.
func TypeAssignable(inferred, declared string) bool {
	if inferred == declared {
		return true
	}
	switch declared {
	case "Element", "Resource", "Any":
		return true
	}
	switch inferred {
	case TypeString:
		return stringLikePrimitives[declared]
	case TypeInteger:
		return integerLike[declared]
	case TypeDecimal:
		return declared == "decimal"
	case TypeBoolean:
		return declared == "boolean"
	case TypeQuantity:
		return quantityVariants[declared]
	case TypeBackbone:
		// A plain object can stand in for any complex (uppercase) type.
		return declared != "" && declared[0] >= 'A' && declared[0] <= 'Z'
	}
	return false
}

// IsPrimitiveType reports whether a FHIR type name is a primitive.
func IsPrimitiveType(name string) bool {
	if name == "" {
		return false
	}
	return name[0] >= 'a' && name[0] <= 'z'
}
