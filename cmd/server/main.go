package main

import (
	_ "github.com/noah-isme/subject-registration-api/api/swagger"
	"github.com/noah-isme/subject-registration-api/cmd/server/command"
)

func main() {
	command.Execute()
}
