package rbac

import (
	"fmt"
	"sort"
)

// Category groups related permissions for administrative listings.
type Category string

const (
	CategoryPatients     Category = "patients"
	CategoryAppointments Category = "appointments"
	CategoryBilling      Category = "billing"
	CategoryPharmacy     Category = "pharmacy"
	CategoryLaboratory   Category = "laboratory"
	CategoryNursing      Category = "nursing"
	CategoryMortuary     Category = "mortuary"
	CategoryTelemedicine Category = "telemedicine"
	CategoryInventory    Category = "inventory"
	CategoryReports      Category = "reports"
	CategoryStaff        Category = "staff"
	CategoryRoles        Category = "roles"
	CategoryAudit        Category = "audit"
)

// PermissionEntry describes a single capability in the catalog.
type PermissionEntry struct {
	Code        string
	Category    Category
	Description string
}

// Catalog is the closed registry of every permission code the system
// recognises. It is built once at startup and never mutated afterwards, so
// lookups need no synchronisation.
type Catalog struct {
	entries    []PermissionEntry
	byCode     map[string]PermissionEntry
	byCategory map[Category][]string
}

// NewCatalog builds the immutable hospital permission catalog.
func NewCatalog() *Catalog {
	entries := []PermissionEntry{
		{Code: "patients:read", Category: CategoryPatients, Description: "View patient records"},
		{Code: "patients:write", Category: CategoryPatients, Description: "Create and update patient records"},
		{Code: "patients:delete", Category: CategoryPatients, Description: "Archive patient records"},
		{Code: "patients:merge", Category: CategoryPatients, Description: "Merge duplicate patient records"},

		{Code: "appointments:read", Category: CategoryAppointments, Description: "View appointment schedules"},
		{Code: "appointments:write", Category: CategoryAppointments, Description: "Book and reschedule appointments"},
		{Code: "appointments:cancel", Category: CategoryAppointments, Description: "Cancel appointments"},

		{Code: "billing:read", Category: CategoryBilling, Description: "View invoices and payment history"},
		{Code: "billing:write", Category: CategoryBilling, Description: "Create invoices and record payments"},
		{Code: "billing:refund", Category: CategoryBilling, Description: "Issue refunds"},
		{Code: "billing:discount", Category: CategoryBilling, Description: "Apply discounts to invoices"},

		{Code: "pharmacy:read", Category: CategoryPharmacy, Description: "View prescriptions and dispensing records"},
		{Code: "pharmacy:dispense", Category: CategoryPharmacy, Description: "Dispense medication"},
		{Code: "pharmacy:prescribe", Category: CategoryPharmacy, Description: "Issue prescriptions"},
		{Code: "pharmacy:stock", Category: CategoryPharmacy, Description: "Manage pharmacy stock"},

		{Code: "lab:read", Category: CategoryLaboratory, Description: "View lab orders and results"},
		{Code: "lab:write", Category: CategoryLaboratory, Description: "Record lab results"},
		{Code: "lab:order", Category: CategoryLaboratory, Description: "Order lab tests"},
		{Code: "lab:approve", Category: CategoryLaboratory, Description: "Approve and sign off lab results"},

		{Code: "nursing:read", Category: CategoryNursing, Description: "View nursing notes and vitals"},
		{Code: "nursing:write", Category: CategoryNursing, Description: "Record nursing notes and vitals"},
		{Code: "nursing:administer", Category: CategoryNursing, Description: "Record medication administration"},

		{Code: "mortuary:read", Category: CategoryMortuary, Description: "View mortuary admissions"},
		{Code: "mortuary:write", Category: CategoryMortuary, Description: "Manage mortuary admissions and releases"},

		{Code: "telemedicine:read", Category: CategoryTelemedicine, Description: "View telemedicine sessions"},
		{Code: "telemedicine:host", Category: CategoryTelemedicine, Description: "Host telemedicine consultations"},

		{Code: "inventory:read", Category: CategoryInventory, Description: "View consumables and equipment inventory"},
		{Code: "inventory:write", Category: CategoryInventory, Description: "Adjust inventory levels"},

		{Code: "reports:financial", Category: CategoryReports, Description: "View financial reports"},
		{Code: "reports:clinical", Category: CategoryReports, Description: "View clinical reports"},
		{Code: "reports:export", Category: CategoryReports, Description: "Export reports"},

		{Code: "staff:read", Category: CategoryStaff, Description: "View staff profiles"},
		{Code: "staff:write", Category: CategoryStaff, Description: "Manage staff profiles"},
		{Code: "staff:schedule", Category: CategoryStaff, Description: "Manage staff rosters"},

		{Code: "roles:read", Category: CategoryRoles, Description: "View roles and permission assignments"},
		{Code: "roles:write", Category: CategoryRoles, Description: "Create and modify custom roles"},
		{Code: "roles:assign", Category: CategoryRoles, Description: "Assign roles and grant permissions to staff"},

		{Code: "audit:read", Category: CategoryAudit, Description: "Query the authorization audit log"},
	}

	byCode := make(map[string]PermissionEntry, len(entries))
	byCategory := make(map[Category][]string)
	for _, e := range entries {
		byCode[e.Code] = e
		byCategory[e.Category] = append(byCategory[e.Category], e.Code)
	}
	for _, codes := range byCategory {
		sort.Strings(codes)
	}
	return &Catalog{entries: entries, byCode: byCode, byCategory: byCategory}
}

// Enumerate returns every catalog entry in registration order.
func (c *Catalog) Enumerate() []PermissionEntry {
	out := make([]PermissionEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Describe returns the entry for code. Unknown codes fail with
// ErrUnknownPermission so callers can distinguish "no such capability"
// from "capability denied".
func (c *Catalog) Describe(code string) (PermissionEntry, error) {
	entry, ok := c.byCode[code]
	if !ok {
		return PermissionEntry{}, fmt.Errorf("%w: %s", ErrUnknownPermission, code)
	}
	return entry, nil
}

// Contains reports whether code is registered.
func (c *Catalog) Contains(code string) bool {
	_, ok := c.byCode[code]
	return ok
}

// Categories returns the category → sorted codes mapping used by the
// administrative UI. The map is precomputed at construction.
func (c *Catalog) Categories() map[Category][]string {
	out := make(map[Category][]string, len(c.byCategory))
	for cat, codes := range c.byCategory {
		copied := make([]string, len(codes))
		copy(copied, codes)
		out[cat] = copied
	}
	return out
}

// Codes returns every registered code sorted lexicographically.
func (c *Catalog) Codes() []string {
	codes := make([]string, 0, len(c.byCode))
	for code := range c.byCode {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Validate checks every element of codes against the catalog.
func (c *Catalog) Validate(codes []string) error {
	for _, code := range codes {
		if !c.Contains(code) {
			return fmt.Errorf("%w: %s", ErrUnknownPermission, code)
		}
	}
	return nil
}
