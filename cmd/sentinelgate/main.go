package main

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"sentinelgate/internal/audit"
	"sentinelgate/internal/backup"
	"sentinelgate/internal/config"
	"sentinelgate/internal/database"
	"sentinelgate/internal/models"
	"sentinelgate/internal/ratelimit"
	"sentinelgate/internal/repository"
	"sentinelgate/internal/security"
	"sentinelgate/internal/service"
	"sentinelgate/pkg/errors"
	"sentinelgate/pkg/logger"
)

type Application struct {
	config       *config.Config
	db           *sql.DB
	log          *zap.Logger
	authService  *service.AuthService
	userService  *service.UserService
	auditLogger  *audit.Logger
	auditMonitor *audit.Monitor
	backupMgr    *backup.Manager
	rateLimiter  *ratelimit.RateLimiter
	sessionRepo  *repository.SessionRepository
	visits       *service.VisitRegistry
	visit        *service.Visit
}

func main() {
	fmt.Println("===========================================")
	fmt.Println("  SentinelGate - Dashboard Access Control")
	fmt.Println("===========================================")
	fmt.Println()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zlog, err := logger.New(cfg.Environment)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zlog.Sync()

	// Initialize application
	app, err := initializeApplication(cfg, zlog)
	if err != nil {
		zlog.Fatal("failed to initialize application", zap.Error(err))
	}
	defer app.cleanup()

	fmt.Println("[OK] Application initialized successfully")
	fmt.Println("[OK] Database encrypted with SQLCipher")
	fmt.Println("[OK] Audit logging enabled")
	fmt.Printf("[OK] Session timeout: %s\n", cfg.SessionTimeout)
	fmt.Println()

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\n\n[Shutdown] Received shutdown signal...")
		cancel()
	}()

	// Start automated backups in background
	go app.backupMgr.StartAutomatedBackups(ctx, cfg.BackupInterval)

	// Start rate limiter cleanup worker
	go app.rateLimiter.StartCleanupWorker(ctx, 1*time.Hour)

	// Visit registry janitor spawns its own goroutine
	app.visits.StartJanitor(ctx, 15*time.Minute, service.DefaultVisitIdleAge)

	// Start security monitoring in background
	go app.startSecurityMonitoring(ctx)

	// Start session row pruning in background
	go app.startSessionPruning(ctx)

	// Run interactive console
	app.runConsole(ctx)
}

// initializeApplication sets up all application components
func initializeApplication(cfg *config.Config, zlog *zap.Logger) (*Application, error) {
	keyManager := security.NewKeyManager(cfg.DBEncryptionKey, cfg.BackupEncryptionKey)

	// Connect to encrypted database
	dbConfig := database.Config{
		Path:          cfg.DBPath,
		EncryptionKey: keyManager.DBPassphrase(),
		MaxOpenConns:  25,
		MaxIdleConns:  5,
		MaxLifetime:   1 * time.Hour,
		MaxIdleTime:   10 * time.Minute,
	}

	db, err := database.Connect(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	// Run migrations
	if err := database.Migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	// Initialize audit logger
	auditLogger, err := audit.NewLogger(db, zlog, cfg.AuditLogPath, cfg.AuditAsyncMode)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize audit logger: %w", err)
	}

	// Seed the admin account when the directory is empty and a
	// bootstrap password was supplied
	if cfg.AdminBootstrapPassword != "" {
		passwordHash, err := security.NewPasswordHasher().Hash(cfg.AdminBootstrapPassword)
		if err != nil {
			db.Close()
			auditLogger.Close()
			return nil, fmt.Errorf("failed to hash bootstrap password: %w", err)
		}

		created, err := database.EnsureAdminUser(context.Background(), db, "admin", cfg.AdminBootstrapEmail, passwordHash)
		if err != nil {
			db.Close()
			auditLogger.Close()
			return nil, fmt.Errorf("admin bootstrap failed: %w", err)
		}

		if created {
			zlog.Info("admin account bootstrapped", zap.String("username", "admin"))
			auditLogger.Log(&audit.Event{
				Level:    audit.LevelInfo,
				Action:   audit.ActionAdminBootstrapped,
				Resource: "users",
				Success:  true,
				Metadata: "admin",
			})
		}
	}

	// Initialize security monitor
	auditMonitor := audit.NewMonitor(auditLogger, zlog)

	// Initialize rate limiter
	rateLimiter := ratelimit.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	// Initialize repositories
	userRepo := repository.NewUserRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	txManager := database.NewTransactionManager(db)

	// Initialize backup encryption
	encryptor, err := security.NewEncryptor(keyManager.BackupKey())
	if err != nil {
		db.Close()
		auditLogger.Close()
		return nil, fmt.Errorf("failed to initialize backup encryptor: %w", err)
	}

	// Initialize backup manager
	backupMgr, err := backup.NewManager(db, encryptor, auditLogger, zlog, cfg.BackupDir, cfg.BackupRetentionDays)
	if err != nil {
		db.Close()
		auditLogger.Close()
		return nil, fmt.Errorf("failed to initialize backup manager: %w", err)
	}

	// Initialize services; the console runs as a single visit
	visits := service.NewVisitRegistry(cfg.SessionTimeout, cfg.MaxLoginAttempts)
	authService := service.NewAuthService(userRepo, sessionRepo, rateLimiter, auditLogger, zlog)
	userService := service.NewUserService(userRepo, sessionRepo, txManager, authService, rateLimiter, auditLogger, zlog)

	return &Application{
		config:       cfg,
		db:           db,
		log:          zlog,
		authService:  authService,
		userService:  userService,
		auditLogger:  auditLogger,
		auditMonitor: auditMonitor,
		backupMgr:    backupMgr,
		rateLimiter:  rateLimiter,
		sessionRepo:  sessionRepo,
		visits:       visits,
		visit:        visits.Begin(),
	}, nil
}

// cleanup performs cleanup operations
func (app *Application) cleanup() {
	fmt.Println("\n[Cleanup] Shutting down gracefully...")

	if app.auditLogger != nil {
		app.auditLogger.Close()
	}

	if app.db != nil {
		app.db.Close()
	}

	fmt.Println("[Cleanup] Done")
}

// startSecurityMonitoring runs security monitoring in background
func (app *Application) startSecurityMonitoring(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := app.auditMonitor.DetectSuspiciousActivity(); err != nil {
				app.log.Error("security monitoring failed", zap.Error(err))
			}
		}
	}
}

// startSessionPruning removes session trace rows a week after expiry
func (app *Application) startSessionPruning(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().AddDate(0, 0, -7)
			pruned, err := app.sessionRepo.PruneExpired(ctx, cutoff)
			if err != nil {
				app.log.Error("failed to prune session rows", zap.Error(err))
				continue
			}
			if pruned > 0 {
				app.log.Info("pruned session rows", zap.Int64("count", pruned))
			}
		}
	}
}

// runConsole runs the interactive command-line interface
func (app *Application) runConsole(ctx context.Context) {
	scanner := bufio.NewScanner(os.Stdin)

	for {
		select {
		case <-ctx.Done():
			return
		default:
			// One gate check per menu display; an expired session is
			// cleared here and the user routed back to sign-in
			had := app.visit.Session.Authenticated()
			authed := app.authService.IsAuthenticated(ctx, app.visit)
			if had && !authed {
				fmt.Println("\nYour session expired. Please sign in again.")
			}

			if authed {
				app.showMainMenu()
			} else {
				app.showAuthMenu()
			}

			fmt.Print("\nSelect option: ")
			if !scanner.Scan() {
				return
			}

			choice := strings.TrimSpace(scanner.Text())
			fmt.Println()

			if authed {
				app.handleMainChoice(ctx, choice, scanner)
			} else {
				app.handleAuthChoice(ctx, choice, scanner)
			}
		}
	}
}

// showAuthMenu displays the sign-in menu
func (app *Application) showAuthMenu() {
	fmt.Println("\n--- Sign In ---")
	fmt.Println("1. Login")
	fmt.Println("2. Exit")
}

// showMainMenu displays the main menu
func (app *Application) showMainMenu() {
	identity, _ := app.authService.CurrentIdentity(app.visit)
	remaining := app.visit.Session.TimeRemaining().Round(time.Second)

	fmt.Printf("\n--- Main Menu (%s, %s, %s left) ---\n", identity.Username, identity.Role, remaining)
	fmt.Println("1. Who Am I")
	fmt.Println("2. View Audit Events")
	fmt.Println("3. List Users")
	fmt.Println("4. Add User")
	fmt.Println("5. Enable/Disable User")
	fmt.Println("6. Change User Role")
	fmt.Println("7. Reset Password")
	fmt.Println("8. Create Backup")
	fmt.Println("9. Logout")
	fmt.Println("10. Exit")
}

// handleAuthChoice handles sign-in menu choices
func (app *Application) handleAuthChoice(ctx context.Context, choice string, scanner *bufio.Scanner) {
	switch choice {
	case "1":
		app.handleLogin(ctx, scanner)
	case "2":
		fmt.Println("Goodbye!")
		os.Exit(0)
	default:
		fmt.Println("Invalid option")
	}
}

// handleMainChoice handles main menu choices
func (app *Application) handleMainChoice(ctx context.Context, choice string, scanner *bufio.Scanner) {
	switch choice {
	case "1":
		app.handleWhoAmI(ctx)
	case "2":
		app.handleViewAuditEvents(ctx)
	case "3":
		app.handleListUsers(ctx)
	case "4":
		app.handleAddUser(ctx, scanner)
	case "5":
		app.handleSetUserActive(ctx, scanner)
	case "6":
		app.handleChangeRole(ctx, scanner)
	case "7":
		app.handleResetPassword(ctx, scanner)
	case "8":
		app.handleCreateBackup(ctx)
	case "9":
		app.handleLogout(ctx)
	case "10":
		fmt.Println("Goodbye!")
		os.Exit(0)
	default:
		fmt.Println("Invalid option")
	}
}

// handleLogin handles user login
func (app *Application) handleLogin(ctx context.Context, scanner *bufio.Scanner) {
	fmt.Println("=== Sign In ===")

	fmt.Print("Username: ")
	scanner.Scan()
	username := strings.TrimSpace(scanner.Text())

	fmt.Print("Password: ")
	scanner.Scan()
	password := strings.TrimSpace(scanner.Text())

	req := &models.LoginRequest{
		Username: username,
		Password: password,
	}

	result, err := app.authService.Login(ctx, app.visit, req)
	if err != nil {
		app.printLoginError(err)
		return
	}

	fmt.Printf("✓ Welcome, %s (%s). Session expires at %s.\n",
		result.Identity.Username,
		result.Identity.Role,
		result.ExpiresAt.Format("15:04:05"))
}

// printLoginError keeps the refusal line identical for every
// credential failure
func (app *Application) printLoginError(err error) {
	switch {
	case errors.Is(err, errors.ErrAccountLocked):
		fmt.Println("Too many failed attempts. Logins from this session are blocked.")
	case errors.Is(err, errors.ErrRateLimitExceeded):
		fmt.Println("Too many login attempts. Please wait a moment and try again.")
	case errors.Is(err, errors.ErrInvalidCredentials):
		fmt.Println("Login failed: invalid username or password")
	default:
		fmt.Printf("Login failed: %v\n", err)
	}
}

// printActionError translates service errors into console lines
func (app *Application) printActionError(err error) {
	switch {
	case errors.Is(err, errors.ErrNotAuthenticated):
		fmt.Println("Your session expired. Please sign in again.")
	case errors.Is(err, errors.ErrUnauthorized):
		fmt.Println("Permission denied: your role does not allow this action.")
	default:
		fmt.Printf("Operation failed: %v\n", err)
	}
}

// handleWhoAmI shows the current session
func (app *Application) handleWhoAmI(ctx context.Context) {
	identity, ok := app.authService.CurrentIdentity(app.visit)
	if !ok {
		fmt.Println("Not signed in")
		return
	}

	fmt.Println("=== Current Session ===")
	fmt.Printf("User: %s (ID: %d)\n", identity.Username, identity.UserID)
	fmt.Printf("Role: %s\n", identity.Role)

	if expiresAt, ok := app.visit.Session.ExpiresAt(); ok {
		fmt.Printf("Session expires: %s\n", expiresAt.Format("2006-01-02 15:04:05"))
	}
}

// handleViewAuditEvents shows recent audit events
func (app *Application) handleViewAuditEvents(ctx context.Context) {
	fmt.Println("=== Recent Audit Events ===")

	events, err := app.authService.RecentEvents(ctx, app.visit, 20)
	if err != nil {
		app.printActionError(err)
		return
	}

	if len(events) == 0 {
		fmt.Println("No audit events found")
		return
	}

	for _, event := range events {
		fmt.Printf("\n[%s] %s - %s\n",
			event.Timestamp.Format("2006-01-02 15:04:05"),
			event.Level,
			event.Action,
		)
		fmt.Printf("Resource: %s | Success: %v\n", event.Resource, event.Success)
		if event.ErrorMsg != "" {
			fmt.Printf("Error: %s\n", event.ErrorMsg)
		}
		if event.Metadata != "" {
			fmt.Printf("Metadata: %s\n", event.Metadata)
		}
		fmt.Println("---")
	}
}

// handleListUsers lists all accounts
func (app *Application) handleListUsers(ctx context.Context) {
	users, err := app.userService.ListUsers(ctx, app.visit)
	if err != nil {
		app.printActionError(err)
		return
	}

	if len(users) == 0 {
		fmt.Println("No users found")
		return
	}

	fmt.Println("=== Users ===")
	for _, user := range users {
		state := "active"
		if !user.Active {
			state = "disabled"
		}
		lastLogin := "never"
		if user.LastLogin != nil {
			lastLogin = user.LastLogin.Format("2006-01-02 15:04:05")
		}

		fmt.Printf("\n[ID: %d] %s (%s)\n", user.ID, user.Username, user.Role)
		fmt.Printf("Email: %s | State: %s\n", user.Email, state)
		fmt.Printf("Last login: %s\n", lastLogin)
		fmt.Println("---")
	}
}

// handleAddUser provisions a new account
func (app *Application) handleAddUser(ctx context.Context, scanner *bufio.Scanner) {
	fmt.Println("=== Add User ===")

	fmt.Print("Username: ")
	scanner.Scan()
	username := strings.TrimSpace(scanner.Text())

	fmt.Print("Email: ")
	scanner.Scan()
	email := strings.TrimSpace(scanner.Text())

	fmt.Print("Password: ")
	scanner.Scan()
	password := strings.TrimSpace(scanner.Text())

	fmt.Print("Role (admin/analyst/viewer): ")
	scanner.Scan()
	role := strings.TrimSpace(scanner.Text())

	req := &models.CreateUserRequest{
		Username: username,
		Email:    email,
		Password: password,
		Role:     models.Role(role),
	}

	user, err := app.userService.CreateUser(ctx, app.visit, req)
	if err != nil {
		app.printActionError(err)
		return
	}

	fmt.Printf("✓ User created successfully! (ID: %d)\n", user.ID)
}

// handleSetUserActive enables or disables an account
func (app *Application) handleSetUserActive(ctx context.Context, scanner *bufio.Scanner) {
	fmt.Print("Enter User ID: ")
	scanner.Scan()
	idStr := strings.TrimSpace(scanner.Text())

	userID, err := strconv.Atoi(idStr)
	if err != nil {
		fmt.Println("Invalid user ID")
		return
	}

	fmt.Print("Enable or disable? (enable/disable): ")
	scanner.Scan()
	verb := strings.ToLower(strings.TrimSpace(scanner.Text()))

	var active bool
	switch verb {
	case "enable":
		active = true
	case "disable":
		active = false
	default:
		fmt.Println("Invalid option")
		return
	}

	if err := app.userService.SetUserActive(ctx, app.visit, userID, active); err != nil {
		app.printActionError(err)
		return
	}

	fmt.Printf("✓ User %sd successfully!\n", verb)
}

// handleChangeRole changes an account's role
func (app *Application) handleChangeRole(ctx context.Context, scanner *bufio.Scanner) {
	fmt.Print("Enter User ID: ")
	scanner.Scan()
	idStr := strings.TrimSpace(scanner.Text())

	userID, err := strconv.Atoi(idStr)
	if err != nil {
		fmt.Println("Invalid user ID")
		return
	}

	fmt.Print("New role (admin/analyst/viewer): ")
	scanner.Scan()
	role := strings.TrimSpace(scanner.Text())

	if err := app.userService.SetUserRole(ctx, app.visit, userID, role); err != nil {
		app.printActionError(err)
		return
	}

	fmt.Println("✓ Role changed successfully!")
}

// handleResetPassword rewrites an account's password
func (app *Application) handleResetPassword(ctx context.Context, scanner *bufio.Scanner) {
	fmt.Print("Enter User ID: ")
	scanner.Scan()
	idStr := strings.TrimSpace(scanner.Text())

	userID, err := strconv.Atoi(idStr)
	if err != nil {
		fmt.Println("Invalid user ID")
		return
	}

	fmt.Print("New Password: ")
	scanner.Scan()
	newPassword := strings.TrimSpace(scanner.Text())

	if err := app.userService.ResetPassword(ctx, app.visit, userID, newPassword); err != nil {
		app.printActionError(err)
		return
	}

	fmt.Println("✓ Password reset successfully!")
}

// handleCreateBackup handles manual backup creation
func (app *Application) handleCreateBackup(ctx context.Context) {
	if _, err := app.authService.RequireRole(ctx, app.visit, models.RoleAdmin); err != nil {
		app.printActionError(err)
		return
	}

	fmt.Println("Creating encrypted backup...")

	backupPath, err := app.backupMgr.CreateBackup()
	if err != nil {
		fmt.Printf("Backup failed: %v\n", err)
		return
	}

	fmt.Printf("✓ Backup created successfully: %s\n", backupPath)

	// Verify backup
	if err := app.backupMgr.VerifyBackup(backupPath); err != nil {
		fmt.Printf("Warning: Backup verification failed: %v\n", err)
		return
	}

	fmt.Println("✓ Backup verified successfully")
}

// handleLogout closes the session
func (app *Application) handleLogout(ctx context.Context) {
	identity, _ := app.authService.CurrentIdentity(app.visit)
	app.authService.Logout(ctx, app.visit)
	fmt.Printf("✓ Goodbye, %s!\n", identity.Username)
}
