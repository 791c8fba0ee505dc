package api

import (
	"net/http"
	"path/filepath"
	"time"

	"gardenx/internal/models"
	"gardenx/internal/service"
	"gardenx/internal/tenant"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SchoolServices bundles the per-school service instances.
type SchoolServices struct {
	Catalog *service.CatalogService
	Orders  *service.OrderService
	Reports *service.ReportService
	Auth    *service.AuthService
}

// Handler contains the HTTP handlers. Cart and payments are shared across
// schools (their state is keyed by school id); everything else is bound
// to one school's store.
type Handler struct {
	registry *tenant.Registry
	services map[string]*SchoolServices
	cart     *service.CartService
	payments *service.PaymentService
}

// NewHandler creates a new HTTP handler
func NewHandler(
	registry *tenant.Registry,
	services map[string]*SchoolServices,
	cart *service.CartService,
	payments *service.PaymentService,
) *Handler {
	return &Handler{
		registry: registry,
		services: services,
		cart:     cart,
		payments: payments,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())
	router.Use(cors.Default())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1", h.schoolMiddleware())
	{
		v1.GET("/schools", h.listSchools)
		v1.GET("/products", h.listProducts)
		v1.POST("/auth/signup", h.signUp)
		v1.POST("/auth/signin", h.signIn)
		v1.POST("/auth/reset-request", h.requestPasswordReset)
		v1.POST("/auth/reset", h.resetPassword)

		// The gateway redirects the browser here without a session header.
		v1.GET("/checkout/return", h.checkoutReturn)

		authed := v1.Group("", h.authMiddleware())
		{
			authed.POST("/auth/signout", h.signOut)
			authed.PUT("/auth/password", h.changePassword)
			authed.POST("/session/switch-school", h.switchSchool)

			authed.GET("/profile", h.getProfile)
			authed.PUT("/profile", h.updateProfile)

			authed.GET("/cart", h.getCart)
			authed.POST("/cart/items", h.addCartItem)
			authed.PUT("/cart/items/:productId", h.setCartQuantity)
			authed.DELETE("/cart/items/:productId", h.removeCartItem)
			authed.DELETE("/cart", h.clearCart)

			authed.POST("/checkout", h.checkout)

			authed.GET("/orders", h.listOrders)
			authed.GET("/orders/:id", h.getOrder)
			authed.POST("/orders/:id/reorder", h.reorder)

			admin := authed.Group("/admin", h.adminMiddleware())
			{
				admin.GET("/orders", h.adminListOrders)
				admin.POST("/orders/manual", h.adminManualOrder)
				admin.PUT("/orders/:id/status", h.adminUpdateOrderStatus)

				admin.POST("/products", h.adminCreateProduct)
				admin.PUT("/products/:id", h.adminUpdateProduct)
				admin.DELETE("/products/:id", h.adminDeleteProduct)
				admin.POST("/products/:id/image", h.adminUploadProductImage)

				admin.GET("/reports/earnings", h.adminEarningsReport)
			}
		}
	}
}

func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "time": time.Now().Unix()})
}

func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ready", "time": time.Now().Unix()})
}

func (h *Handler) listSchools(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"schools": h.registry.Schools(),
		"default": h.registry.DefaultID(),
	})
}

// --- auth & profile ---

func (h *Handler) signUp(c *gin.Context) {
	var req service.SignUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	result, err := mustServices(c).Auth.SignUp(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *Handler) signIn(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	result, err := mustServices(c).Auth.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) signOut(c *gin.Context) {
	if err := mustServices(c).Auth.SignOut(c.Request.Context(), mustClaims(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "signed out"})
}

// requestPasswordReset answers identically for known and unknown
// emails, so the endpoint cannot confirm whether an account exists.
func (h *Handler) requestPasswordReset(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if err := mustServices(c).Auth.RequestPasswordReset(c.Request.Context(), req.Email); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reset link sent if the email is registered"})
}

func (h *Handler) resetPassword(c *gin.Context) {
	var req struct {
		Token    string `json:"token" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if err := mustServices(c).Auth.ResetPassword(c.Request.Context(), req.Token, req.Password); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "password updated"})
}

func (h *Handler) changePassword(c *gin.Context) {
	var req struct {
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if err := mustServices(c).Auth.ChangePassword(c.Request.Context(), mustClaims(c).UserID, req.Password); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "password updated"})
}

// switchSchool revokes the current session and names the school the
// client should re-authenticate against. The session dies before any
// further backend call can happen under the old school.
func (h *Handler) switchSchool(c *gin.Context) {
	var req struct {
		SchoolID string `json:"school_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if _, err := h.registry.Resolve(req.SchoolID); err != nil {
		respondError(c, err)
		return
	}

	if err := mustServices(c).Auth.SignOut(c.Request.Context(), mustClaims(c)); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "signed out",
		"school_id": req.SchoolID,
	})
}

func (h *Handler) getProfile(c *gin.Context) {
	profile, err := mustServices(c).Auth.GetProfile(c.Request.Context(), mustClaims(c).UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	if profile == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Profile not completed", "code": "profile_incomplete"})
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *Handler) updateProfile(c *gin.Context) {
	var req struct {
		FirstName string                `json:"first_name" binding:"required"`
		LastName  string                `json:"last_name" binding:"required"`
		Phone     string                `json:"phone" binding:"required"`
		Role      string                `json:"role" binding:"required"`
		Details   models.ProfileDetails `json:"details"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	claims := mustClaims(c)
	svc := mustServices(c)

	profile, err := svc.Auth.GetProfile(c.Request.Context(), claims.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	if profile == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Profile not completed", "code": "profile_incomplete"})
		return
	}

	profile.FirstName = req.FirstName
	profile.LastName = req.LastName
	profile.Phone = req.Phone
	profile.Role = req.Role
	profile.Details = req.Details

	if err := svc.Auth.UpdateProfile(c.Request.Context(), profile); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// --- catalog ---

func (h *Handler) listProducts(c *gin.Context) {
	products, err := mustServices(c).Catalog.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (h *Handler) adminCreateProduct(c *gin.Context) {
	var in service.ProductInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	product, err := mustServices(c).Catalog.Create(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

func (h *Handler) adminUpdateProduct(c *gin.Context) {
	var in service.ProductInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	product, err := mustServices(c).Catalog.Update(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *Handler) adminDeleteProduct(c *gin.Context) {
	if err := mustServices(c).Catalog.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *Handler) adminUploadProductImage(c *gin.Context) {
	file, header, err := c.Request.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing image file"})
		return
	}
	defer file.Close()

	ext := filepath.Ext(header.Filename)
	if ext == "" {
		ext = ".jpg"
	}

	product, err := mustServices(c).Catalog.AttachImage(c.Request.Context(), c.Param("id"), ext, file)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

// --- cart ---

func (h *Handler) getCart(c *gin.Context) {
	claims := mustClaims(c)
	lines, err := h.cart.Get(c.Request.Context(), schoolID(c), claims.UserID, claims.Admin)
	if err != nil {
		respondError(c, err)
		return
	}
	respondCart(c, lines)
}

func (h *Handler) addCartItem(c *gin.Context) {
	var req struct {
		ProductID string `json:"product_id" binding:"required"`
		Quantity  int    `json:"quantity"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	product, err := mustServices(c).Catalog.Get(c.Request.Context(), req.ProductID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
		return
	}

	claims := mustClaims(c)
	lines, err := h.cart.Add(c.Request.Context(), schoolID(c), claims.UserID, claims.Admin, product, req.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}
	respondCart(c, lines)
}

func (h *Handler) setCartQuantity(c *gin.Context) {
	var req struct {
		Quantity int `json:"quantity"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	claims := mustClaims(c)
	lines, err := h.cart.SetQuantity(c.Request.Context(), schoolID(c), claims.UserID, claims.Admin,
		c.Param("productId"), req.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}
	respondCart(c, lines)
}

func (h *Handler) removeCartItem(c *gin.Context) {
	claims := mustClaims(c)
	lines, err := h.cart.Remove(c.Request.Context(), schoolID(c), claims.UserID, claims.Admin, c.Param("productId"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondCart(c, lines)
}

func (h *Handler) clearCart(c *gin.Context) {
	if err := h.cart.Clear(c.Request.Context(), schoolID(c), mustClaims(c).UserID); err != nil {
		respondError(c, err)
		return
	}
	respondCart(c, nil)
}

func respondCart(c *gin.Context, lines []models.CartLine) {
	if lines == nil {
		lines = []models.CartLine{}
	}
	c.JSON(http.StatusOK, gin.H{
		"items":      lines,
		"total":      service.CartTotal(lines),
		"item_count": service.CartItemCount(lines),
	})
}

// --- checkout ---

func (h *Handler) checkout(c *gin.Context) {
	var req struct {
		PaymentMethod string `json:"payment_method" binding:"required"`
		Mode          string `json:"mode" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	claims := mustClaims(c)
	sid := schoolID(c)

	lines, err := h.cart.Get(c.Request.Context(), sid, claims.UserID, claims.Admin)
	if err != nil {
		respondError(c, err)
		return
	}

	switch req.PaymentMethod {
	case "cash":
		order, items, err := mustServices(c).Orders.PlaceOrder(c.Request.Context(), claims.UserID, lines, req.Mode)
		if err != nil {
			respondError(c, err)
			return
		}
		if err := h.cart.Clear(c.Request.Context(), sid, claims.UserID); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"order": order, "items": items})

	case "card":
		checkout, err := h.payments.StartCardCheckout(c.Request.Context(), sid, claims.UserID, lines, req.Mode)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, checkout)

	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "payment_method must be cash or card", "field": "payment_method"})
	}
}

// checkoutReturn receives the payment gateway's browser redirect. The
// staged checkout names its own school and user, so the order is placed
// against the right backend regardless of request headers.
func (h *Handler) checkoutReturn(c *gin.Context) {
	checkoutID := c.Query("checkout_id")
	status := c.Query("status")
	if checkoutID == "" || status == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing checkout_id or status"})
		return
	}

	stage, err := h.payments.CompleteCardCheckout(c.Request.Context(), checkoutID, status)
	if err != nil {
		respondError(c, err)
		return
	}
	if stage == nil {
		c.JSON(http.StatusOK, gin.H{"status": status})
		return
	}

	svc, ok := h.services[stage.SchoolID]
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Something went wrong, please try again"})
		return
	}

	order, items, err := svc.Orders.PlaceOrder(c.Request.Context(), stage.UserID, stage.Lines, stage.Mode)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.cart.Clear(c.Request.Context(), stage.SchoolID, stage.UserID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"order": order, "items": items})
}

// --- orders ---

func (h *Handler) listOrders(c *gin.Context) {
	orders, err := mustServices(c).Orders.ListUserOrders(c.Request.Context(), mustClaims(c).UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (h *Handler) getOrder(c *gin.Context) {
	claims := mustClaims(c)

	order, items, err := mustServices(c).Orders.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		return
	}
	if order.UserID != claims.UserID && !claims.Admin {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not your order"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order, "items": items})
}

func (h *Handler) reorder(c *gin.Context) {
	var req struct {
		Mode string `json:"mode"`
	}
	_ = c.ShouldBindJSON(&req)

	order, items, err := mustServices(c).Orders.Reorder(c.Request.Context(), mustClaims(c).UserID, c.Param("id"), req.Mode)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"order": order, "items": items})
}

func (h *Handler) adminListOrders(c *gin.Context) {
	orders, err := mustServices(c).Orders.ListAllOrders(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// adminManualOrder records a walk-up sale rung up at the stand. The
// order lands under the admin's own account, already delivered; a free
// order is totalled at zero.
func (h *Handler) adminManualOrder(c *gin.Context) {
	var req struct {
		Items []struct {
			ProductID string `json:"product_id"`
			Name      string `json:"name"`
			Quantity  int    `json:"quantity"`
		} `json:"items" binding:"required"`
		Free bool `json:"free"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	lines := make([]models.CartLine, 0, len(req.Items))
	for _, item := range req.Items {
		lines = append(lines, models.CartLine{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
		})
	}

	order, items, err := mustServices(c).Orders.ManualEntry(c.Request.Context(), mustClaims(c).UserID, lines, req.Free)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"order": order, "items": items})
}

func (h *Handler) adminUpdateOrderStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	order, err := mustServices(c).Orders.UpdateStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

// --- reports ---

func (h *Handler) adminEarningsReport(c *gin.Context) {
	start, err := time.Parse("2006-01-02", c.Query("start"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start must be YYYY-MM-DD", "field": "start"})
		return
	}
	end, err := time.Parse("2006-01-02", c.Query("end"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end must be YYYY-MM-DD", "field": "end"})
		return
	}

	report, err := mustServices(c).Reports.Earnings(c.Request.Context(), start, end)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
