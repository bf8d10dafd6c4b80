package httpserver

// HandlerResponse is what a wrapped handler returns. Status defaults to 200;
// 204 sends no body at all.
type HandlerResponse[T any] struct {
	Status     int
	Data       T
	Pagination *Pagination
}

type Pagination struct {
	Page       int `json:"page"        example:"1"`
	PageSize   int `json:"page_size"   example:"50"`
	TotalCount int `json:"total_count" example:"42"`
	TotalPages int `json:"total_pages" example:"1"`
}

// APIResponse is the success envelope. RequestID always matches the
// X-Request-ID response header.
type APIResponse[T any] struct {
	RequestID  string      `json:"request_id" example:"3bf74527-8097-4217-8485-ffe05d16f82e"`
	Data       T           `json:"data"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

func OK[T any](data T) *HandlerResponse[T] {
	return &HandlerResponse[T]{Status: 0, Data: data, Pagination: nil}
}

func Created[T any](data T) *HandlerResponse[T] {
	return &HandlerResponse[T]{Status: 201, Data: data, Pagination: nil} //nolint:mnd
}

func NoContent[T any]() *HandlerResponse[T] {
	var zero T

	return &HandlerResponse[T]{Status: 204, Data: zero, Pagination: nil} //nolint:mnd
}
