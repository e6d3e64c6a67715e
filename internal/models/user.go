package models

// User is one row of the seeded users table.
type User struct {
	ID        int64  `json:"id"`
	Firstname string `json:"firstname"`
	Surname   string `json:"surname"`
	Email     string `json:"email"`
}

// Row is a single result row keyed by column name.
type Row map[string]any

// ErrorRow builds the single-row error marker returned by lenient queries.
func ErrorRow(err error) Row {
	return Row{"error": err.Error()}
}

// IsErrorRow reports whether rows is exactly the error marker shape.
func IsErrorRow(rows []Row) bool {
	if len(rows) != 1 || len(rows[0]) != 1 {
		return false
	}
	_, ok := rows[0]["error"]
	return ok
}
