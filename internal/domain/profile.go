package domain

// Profile - снимок профиля собеседника от внешнего сервиса профилей.
// Ядро его только читает.
type Profile struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	ProfileImage *string `json:"profile_image,omitempty"`
	Online       bool    `json:"online"`
	Age          *int    `json:"age,omitempty"`
	Location     *string `json:"location,omitempty"`
}

const UnknownProfileName = "Unknown"

// UnknownProfile - заглушка для участника без профиля, карточка матча все равно показывается.
func UnknownProfile(id string) Profile {
	return Profile{ID: id, Name: UnknownProfileName}
}
