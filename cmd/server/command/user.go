package command

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/noah-isme/subject-registration-api/internal/models"
	"github.com/noah-isme/subject-registration-api/internal/repository"
	"github.com/noah-isme/subject-registration-api/internal/service"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
}

var newUser service.CreateUserRequest

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an account",
	Long: `Create an active account. Use --role ADMIN or SUPERADMIN to bootstrap
an administrator able to sign in through the admin login.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		rt, err := loadRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		db, err := rt.openDatabase(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		users := service.NewUserService(repository.NewUserRepository(db), nil, rt.logger)
		user, err := users.Create(cmd.Context(), newUser)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created %s %s (%s)\n", user.Role, user.Username, user.ID)
		return nil
	},
}

func init() {
	flags := userCreateCmd.Flags()
	flags.StringVar(&newUser.Username, "username", "", "login name")
	flags.StringVar(&newUser.Password, "password", "", "initial password, at least 6 characters")
	flags.StringVar(&newUser.FullName, "full-name", "", "display name")
	flags.Var(roleFlag{&newUser.Role}, "role", "STUDENT, ADMIN or SUPERADMIN")
	_ = userCreateCmd.MarkFlagRequired("username")
	_ = userCreateCmd.MarkFlagRequired("password")
	newUser.Role = models.RoleStudent

	userCmd.AddCommand(userCreateCmd)
}

// roleFlag parses --role case-insensitively into a models.UserRole.
type roleFlag struct {
	role *models.UserRole
}

func (f roleFlag) String() string {
	if f.role == nil {
		return ""
	}
	return string(*f.role)
}

func (f roleFlag) Set(value string) error {
	role := models.UserRole(strings.ToUpper(strings.TrimSpace(value)))
	if !role.Valid() {
		return fmt.Errorf("unknown role %q", value)
	}
	*f.role = role
	return nil
}

func (f roleFlag) Type() string {
	return "role"
}
