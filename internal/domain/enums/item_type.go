package enums

import "strings"

type ItemType string

const (
	ItemTypeCourse   ItemType = "course"
	ItemTypeWorkshop ItemType = "workshop"
	ItemTypeService  ItemType = "service"
)

var itemTypes = map[ItemType]struct{}{
	ItemTypeCourse:   {},
	ItemTypeWorkshop: {},
	ItemTypeService:  {},
}

func ParseItemType(raw string) (ItemType, bool) {
	t := ItemType(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := itemTypes[t]
	return t, ok
}

func (t ItemType) Valid() bool {
	_, ok := itemTypes[t]
	return ok
}
