package chat

import "strings"

const roomPrefix = "user_"

// CustomerRoomID maps a customer account id to its support room.
// It is the only addressing convention for rooms: one room per customer,
// shared with every admin.
func CustomerRoomID(customerID string) string {
	return roomPrefix + customerID
}

// CustomerIDFromRoom is the inverse of CustomerRoomID.
func CustomerIDFromRoom(roomID string) (string, bool) {
	id, ok := strings.CutPrefix(roomID, roomPrefix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// ValidRoomID reports whether roomID was produced by CustomerRoomID.
func ValidRoomID(roomID string) bool {
	_, ok := CustomerIDFromRoom(roomID)
	return ok
}
