package domain

// RoomName identifies a delivery group. It can only be built with UserRoom
// or RoleRoom, so call sites cannot hand-craft a room string.
type RoomName struct {
	name string
}

func UserRoom(id UserID) RoomName {
	return RoomName{name: "user_" + string(id)}
}

// RoleRoom is the role-wide broadcast group, e.g. "astrologers".
func RoleRoom(role Role) RoomName {
	return RoomName{name: string(role) + "s"}
}

// JoinsRoleRoom reports whether connections of this role are members of RoleRoom(role).
func JoinsRoleRoom(role Role) bool {
	return role == RoleAstrologer
}

func (r RoomName) String() string { return r.name }

func (r RoomName) IsZero() bool { return r.name == "" }
