package main

import "fixwork_backend/internal/app"

func main() {
	app.Run()
}
