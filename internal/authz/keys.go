package authz

import "fmt"

// Cache key scheme. Namespaced so blacklist keys, grant flags and
// permission sets can never collide.
const (
	keyNamespace       = "authz_native"
	grantKeyPrefix     = keyNamespace + ":userrole"
	superRoleKeyPrefix = keyNamespace + ":portal_admin"
	permsKeyPrefix     = keyNamespace + ":perms"
)

func grantKey(userID int64, applicationCode string, roleID int64) string {
	return fmt.Sprintf("%s:%d:%s:%d", grantKeyPrefix, userID, applicationCode, roleID)
}

func superRoleKey(roleID int64) string {
	return fmt.Sprintf("%s:%d", superRoleKeyPrefix, roleID)
}

func permsKey(applicationCode string, roleID int64) string {
	return fmt.Sprintf("%s:%s:%d", permsKeyPrefix, applicationCode, roleID)
}
