package codes

const (
	CODE_SUCCESS = 0

	CODE_ERR_UNKNOWN       = 1000
	CODE_ERR_BAD_PARAMS    = 1001
	CODE_ERR_REQFORMAT     = 1002
	CODE_ERR_SECURITY      = 1003
	CODE_ERR_OBJ_NOT_FOUND = 1004
	// the request was applied only in part, Data carries the details
	CODE_ERR_PARTIAL = 1005
	// a dirty tile could not be saved and stays loaded
	CODE_ERR_CONFLICT = 1006
	// the shared uid counter cannot be reached
	CODE_ERR_UNAVAILABLE = 1007
)
