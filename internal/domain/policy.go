package domain

// Actions gate every privileged operation. Each handler asks the policy table
// once instead of repeating inline role conditionals per route.
const (
	ActionSaleCreate        = "sale.create"
	ActionSaleUpdate        = "sale.update"
	ActionSaleDelete        = "sale.delete"
	ActionSaleBulkDelete    = "sale.bulk_delete"
	ActionSaleListAll       = "sale.list_all"
	ActionProductManage     = "product.manage"
	ActionOrderTakerManage  = "ordertaker.manage"
	ActionOrderTakerBalance = "ordertaker.balance"
	ActionUserManage        = "user.manage"
	ActionActivityView      = "activity.view"
)

var rolePolicy = map[string]map[string]bool{
	RoleAdmin: {
		ActionSaleCreate:        true,
		ActionSaleUpdate:        true,
		ActionSaleDelete:        true,
		ActionProductManage:     true,
		ActionOrderTakerBalance: true,
	},
	RoleSuperadmin: {
		ActionSaleCreate:        true,
		ActionSaleUpdate:        true,
		ActionSaleDelete:        true,
		ActionSaleBulkDelete:    true,
		ActionSaleListAll:       true,
		ActionProductManage:     true,
		ActionOrderTakerManage:  true,
		ActionOrderTakerBalance: true,
		ActionUserManage:        true,
		ActionActivityView:      true,
	},
}

// Allowed reports whether the role may perform the action. Unknown roles and
// unknown actions are always denied.
func Allowed(role string, action string) bool {
	return rolePolicy[role][action]
}
