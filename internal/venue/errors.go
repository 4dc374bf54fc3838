package venue

// VenueError представляет ошибку от API биржи
type VenueError struct {
	Venue    string // подсистема: gamma, clob, feed
	Code     string // HTTP статус или код отказа биржи
	Message  string
	Original error
}

func (e *VenueError) Error() string {
	return e.Venue + ": " + e.Message
}

// Unwrap возвращает оригинальную ошибку для поддержки errors.Is() и errors.As()
func (e *VenueError) Unwrap() error {
	return e.Original
}
