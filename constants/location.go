package constants

import "strings"

// DefaultLocationCode is reported when the delivering plant is unknown.
const DefaultLocationCode = 2093

// locationCodes maps a delivering plant town to its statistical location code.
var locationCodes = map[string]int{
	"BUDESTI":  1759,
	"CATEASCA": 1826,
	"CRAIOVA":  1593,
}

// plantCodes maps internal plant identifiers printed on invoices to a town.
var plantCodes = map[string]string{
	"RO03_E_CRA_1593": "CRAIOVA",
}

// LocationCode returns the code for a delivering plant town, or DefaultLocationCode.
func LocationCode(town string) int {
	if code, ok := locationCodes[strings.ToUpper(strings.TrimSpace(town))]; ok {
		return code
	}
	return DefaultLocationCode
}

// PlantTown resolves a plant identifier to its town.
func PlantTown(plant string) (string, bool) {
	town, ok := plantCodes[strings.TrimSpace(plant)]
	return town, ok
}
