package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/mmdatafocus/payments_backend/utils"
)

// Mints a bearer token for the ops API (/api/*). Signing uses API_SECRET, so
// run this with the same secret as the target deployment.
func main() {
	userId := flag.Int("user-id", 0, "Operator user id embedded in the token")
	role := flag.String("role", "viewer", "Operator role; admin unlocks the stuck/cache endpoints")
	hours := flag.Int("hours", 24, "Token lifetime in hours (used when TOKEN_HOUR_LIFESPAN is unset)")
	flag.Parse()

	if *userId <= 0 {
		fmt.Fprintln(os.Stderr, "--user-id must be positive")
		os.Exit(1)
	}
	if os.Getenv("TOKEN_HOUR_LIFESPAN") == "" {
		os.Setenv("TOKEN_HOUR_LIFESPAN", strconv.Itoa(*hours))
	}

	token, err := utils.JwtGenerate(*userId, *role)
	utils.ErrorPanic(err)
	fmt.Println(token)
}
