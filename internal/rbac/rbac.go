package rbac

type Level string
type Action string

const (
	LevelView    Level = "view"
	LevelComment Level = "comment"
	LevelEdit    Level = "edit"
)

const (
	ActionRead    Action = "read"
	ActionComment Action = "comment"
	ActionWrite   Action = "write"
)

// Grant is an explicit per-user permission on a locked document.
type Grant struct {
	UserID string
	Level  Level
}

func Can(level Level, action Action) bool {
	switch level {
	case LevelEdit:
		return action == ActionRead || action == ActionComment || action == ActionWrite
	case LevelComment:
		return action == ActionRead || action == ActionComment
	case LevelView:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(level string) Level {
	switch Level(level) {
	case LevelView, LevelComment, LevelEdit:
		return Level(level)
	default:
		return LevelView
	}
}

// Resolve computes the effective level of userID on a document.
//
// Unlocked documents give every participant defaultLevel and ignore grants.
// Locked documents give the user's explicit grant, or view when there is none,
// whatever the default says.
func Resolve(isLocked bool, defaultLevel Level, grants []Grant, userID string) Level {
	if !isLocked {
		return Normalize(string(defaultLevel))
	}
	for _, grant := range grants {
		if grant.UserID == userID {
			return Normalize(string(grant.Level))
		}
	}
	return LevelView
}

func rank(level Level) int {
	switch level {
	case LevelEdit:
		return 2
	case LevelComment:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether level grants everything min grants.
func AtLeast(level, min Level) bool {
	return rank(Normalize(string(level))) >= rank(Normalize(string(min)))
}
